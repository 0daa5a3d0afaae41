package httpapi

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/requestinfo"
)

// accessLog writes one INFO line per request.  It must run inside the
// request-info enricher so host, IP, and bot flag are on the context.
func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			}
			if info := requestinfo.FromContext(r.Context()); info != nil {
				fields = append(fields,
					zap.String("host", info.Host),
					zap.Stringer("ip", info.IP),
					zap.String("country", info.CountryISO),
					zap.Bool("bot", info.UA.IsBot),
				)
			}
			log.Info("http request", fields...)
		})
	}
}
