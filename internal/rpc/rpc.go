// internal/rpc/rpc.go
//
// Retrying wrapper around remote calls.
//
// Context
// -------
// Tenant lookup, session bootstrap, profile fetches, and content queries
// all pass through Execute.  Each attempt is classified (see errors.go);
// non-retryable kinds return on first sight, network failures back off
// linearly, and everything else backs off at a constant rate.  Only the
// terminal failure of a retryable kind produces a user notification.
//
// Workflow
// --------
//  1. Run the call.
//  2. Success → return the result untouched.
//  3. Logical error (no rows, no session, aborted) → return it.
//  4. Retryable error with attempts left → sleep, go to 1.
//  5. Retries exhausted → notify, return the zero Data with Err set.
//
// Notes
// -----
//   - Cancelling ctx during a backoff sleep ends the loop as KindAborted,
//     without a notification.
//   - Oxford commas, two spaces after periods.
package rpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/adept-shell/internal/metrics"
	"github.com/yanizio/adept-shell/internal/notify"
)

// Defaults used when neither the client nor the call overrides them.
const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 1000 * time.Millisecond
)

// Result is the outcome of one remote call.  Err holds a logical error the
// backend returned; a nil Err means Data is valid.
type Result[T any] struct {
	Data   T
	Err    *Error
	Status int
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Call is one remote operation.  The returned error is a transport-level
// failure; Result.Err is an answer the backend gave.
type Call[T any] func(ctx context.Context) (Result[T], error)

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client holds the retry policy and the notification sink.  It is safe for
// concurrent use.
type Client struct {
	notifier   notify.Notifier
	log        *zap.Logger
	sleep      Sleeper
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSleeper replaces the backoff sleeper, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithPolicy sets the client-wide retry count and base delay.
func WithPolicy(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay >= 0 {
			c.baseDelay = baseDelay
		}
	}
}

// New returns a Client that reports terminal failures to n.  A nil n
// discards notifications.
func New(n notify.Notifier, opts ...Option) *Client {
	c := &Client{
		notifier:   n,
		log:        zap.NewNop(),
		sleep:      sleepCtx,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CallOption overrides the policy for a single Execute.
type CallOption func(*policy)

type policy struct {
	maxRetries int
	baseDelay  time.Duration
	name       string
}

// Retries overrides the retry count.
func Retries(n int) CallOption { return func(p *policy) { p.maxRetries = n } }

// BaseDelay overrides the base backoff delay.
func BaseDelay(d time.Duration) CallOption { return func(p *policy) { p.baseDelay = d } }

// Named labels the call in log lines.
func Named(name string) CallOption { return func(p *policy) { p.name = name } }

// Execute runs call under c's retry policy.
func Execute[T any](ctx context.Context, c *Client, call Call[T], opts ...CallOption) Result[T] {
	p := policy{maxRetries: c.maxRetries, baseDelay: c.baseDelay, name: "rpc"}
	for _, o := range opts {
		o(&p)
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		res, err := call(ctx)
		if err == nil && res.Err == nil {
			metrics.RPCAttemptsTotal.WithLabelValues("ok").Inc()
			return res
		}

		var failure *Error
		if err != nil {
			kind := Classify(err)
			failure = asError(err, kind)
		} else {
			failure = res.Err
		}
		kind := failure.Kind
		metrics.RPCAttemptsTotal.WithLabelValues(kind.String()).Inc()

		if !kind.Retryable() {
			// Logical answers go back as-is, Data included.
			res.Err = failure
			return res
		}

		if attempt >= p.maxRetries {
			metrics.RPCTerminalFailuresTotal.WithLabelValues(kind.String()).Inc()
			c.log.Warn("remote call failed",
				zap.String("call", p.name),
				zap.String("class", kind.String()),
				zap.Int("attempts", attempt+1),
				zap.Error(failure))
			c.notifyTerminal(ctx, kind)
			return Result[T]{Err: failure, Status: res.Status}
		}

		delay := p.baseDelay
		if kind == KindNetwork {
			delay = p.baseDelay * time.Duration(attempt+1)
		}
		c.log.Debug("remote call retry",
			zap.String("call", p.name),
			zap.String("class", kind.String()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		if err := c.sleep(ctx, delay); err != nil {
			metrics.RPCAttemptsTotal.WithLabelValues(KindAborted.String()).Inc()
			return Result[T]{Err: &Error{Kind: KindAborted, Err: err}}
		}
	}
}

// Do adapts a plain function to Call and executes it.  Errors returned by
// fn are classified as thrown failures.
func Do[T any](ctx context.Context, c *Client, fn func(context.Context) (T, error), opts ...CallOption) Result[T] {
	return Execute(ctx, c, func(ctx context.Context) (Result[T], error) {
		v, err := fn(ctx)
		if err != nil {
			var tagged *Error
			if errors.As(err, &tagged) && !tagged.Kind.Retryable() {
				return Result[T]{Err: tagged}, nil
			}
			return Result[T]{}, err
		}
		return Result[T]{Data: v}, nil
	}, opts...)
}

func (c *Client) notifyTerminal(ctx context.Context, kind Kind) {
	if c.notifier == nil {
		return
	}
	n := notify.Notification{Level: notify.LevelError}
	if kind == KindNetwork {
		n.Title = "Network unavailable"
		n.Message = "We could not reach the server.  Check your connection and try again."
	} else {
		n.Title = "Request failed"
		n.Message = "Something went wrong while loading data.  Please try again."
	}
	// Terminal failures are reported even when the caller's ctx has
	// already expired.
	c.notifier.Notify(context.WithoutCancel(ctx), n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
