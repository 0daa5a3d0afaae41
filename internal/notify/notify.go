// internal/notify/notify.go
//
// User-visible notification queue.
//
// Context
// -------
// Remote-call failures that survive every retry are the only errors the
// shell ever shows to a person.  The rpc client hands them to a Notifier;
// the Queue implementation here keeps the most recent ones in memory so the
// page shell can drain them as toasts via GET /api/notifications, and logs
// each one so operators see the same signal.
//
// Notes
// -----
//   - The queue is bounded.  When full, the oldest entry is dropped.
//   - Oxford commas, two spaces after periods.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/metrics"
)

// Level classifies a notification for rendering.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notification is one toast-style message.
type Notification struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives user-visible notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// DefaultCapacity bounds the in-memory queue.
const DefaultCapacity = 32

// Queue is a bounded, concurrency-safe Notifier.
type Queue struct {
	mu    sync.Mutex
	items []Notification
	cap   int
	log   *zap.Logger
	now   func() time.Time
}

// NewQueue returns a Queue holding at most capacity entries.  A nil logger
// disables logging.
func NewQueue(capacity int, log *zap.Logger) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		items: make([]Notification, 0, capacity),
		cap:   capacity,
		log:   log,
		now:   time.Now,
	}
}

// Notify appends n, stamping At when unset.
func (q *Queue) Notify(_ context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = q.now().UTC()
	}
	if n.Level == "" {
		n.Level = LevelError
	}

	q.mu.Lock()
	if len(q.items) == q.cap {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
	}
	q.items = append(q.items, n)
	q.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(n.Level)).Inc()
	q.log.Warn("user notification",
		zap.String("level", string(n.Level)),
		zap.String("title", n.Title),
		zap.String("message", n.Message))
}

// Drain returns every queued notification, oldest first, and empties the
// queue.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.items))
	copy(out, q.items)
	q.items = q.items[:0]
	return out
}

// Len reports how many notifications are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
