// internal/rpc/errors.go
//
// Closed failure taxonomy for remote calls.
//
// Context
// -------
// Every remote call the shell makes ends in one of five kinds.  The kind
// decides the retry policy and whether a person ever hears about it:
//
//	Kind                  Retry                    Notification
//	KindSessionNotFound   none                     never
//	KindNoRows            none                     never
//	KindAborted           none                     never
//	KindNetwork           linear (base × n)        after exhaustion
//	KindUnknown           constant (base)          after exhaustion
//
// Backends tag their errors at the call boundary with *Error.  Untagged
// errors are mapped by Classify using sentinel values and interfaces, never
// by reading message text.
package rpc

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
)

// Kind is the outcome class of a failed call.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAborted
	KindNoRows
	KindSessionNotFound
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAborted:
		return "aborted"
	case KindNoRows:
		return "no_rows"
	case KindSessionNotFound:
		return "session_not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether calls failing with k may be attempted again.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindUnknown
}

// Logical reports whether k is an expected negative answer rather than a
// failure: no rows, or no session.
func (k Kind) Logical() bool {
	return k == KindNoRows || k == KindSessionNotFound
}

// Error is the tagged error carried by Result.Err.
type Error struct {
	Kind    Kind
	Code    string // backend-specific code, informational only
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so errors.Is(err,
// &Error{Kind: KindNoRows}) works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Code == "" && t.Message == "" && t.Err == nil
}

// Errorf builds a tagged error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind.  A nil err yields nil.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Classify maps any error onto the taxonomy.  Tagged errors keep their kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindAborted
	case errors.Is(err, sql.ErrNoRows):
		return KindNoRows
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn):
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}

// asError returns err as *Error tagged with kind, keeping an existing tag.
func asError(err error, kind Kind) *Error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	return &Error{Kind: kind, Err: err}
}
