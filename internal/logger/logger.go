// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// The shell writes lifecycle, retry, and fallback events to one JSON log
// per day under `<root>/logs/YYYY-MM-DD.log`.  When running in an
// interactive TTY the same events are teed, colorized, to stdout.
// Rotation, compression, and retention are handled by Lumberjack; no
// external log-rotate job is required.
//
// Usage
// -----
//
//	log, err := logger.New(logger.Options{Root: cfg.Paths.Root, Tee: isTTY, Level: cfg.Log.Level})
//	if err != nil { … }
//	log.Info("tenant resolved", zap.String("host", host))
//
// Notes
// -----
//   - Zap core uses ISO-8601 timestamps and lowercase levels.
//   - Errors are written to the same sink via `ErrorOutput`.
//   - Oxford commas, two spaces after periods.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.  Level defaults to info.
type Options struct {
	Root  string
	Tee   bool
	Level string
}

// ParseLevel maps a config string onto a zap level.  Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zap.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zap.InfoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// New returns a *zap.Logger that writes JSON to <root>/logs/YYYY-MM-DD.log.
// When o.Tee is set a colored console core is also attached.  The logger
// is installed as the process-wide default via zap.ReplaceGlobals.
func New(o Options) (*zap.Logger, error) {
	lvl, err := ParseLevel(o.Level)
	if err != nil {
		return nil, err
	}

	logDir := filepath.Join(o.Root, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, time.Now().Format("2006-01-02")+".log"),
		MaxSize:    50, // MB
		MaxBackups: 7,
		MaxAge:     14, // days
		Compress:   true,
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileSink), lvl),
	}

	if o.Tee {
		console := encCfg
		console.EncodeLevel = zapcore.LowercaseColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(console),
			zapcore.AddSync(os.Stdout),
			lvl,
		))
	}

	z := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.AddSync(fileSink)),
	)

	// Make this the global logger so zap.L() and zap.S() work everywhere.
	zap.ReplaceGlobals(z)

	z.Info("logger online", zap.Bool("tee", o.Tee), zap.Stringer("level", lvl))
	return z, nil
}
