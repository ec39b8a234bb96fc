// Package fault classifies errors by how the collector must react to them.
//
// Transient errors are retried on the next scheduled tick, authentication
// errors deactivate the credential that produced them, not-found errors map to
// empty results, and conflicts are resolved by re-reading the winning row.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the reaction class of an error.
type Kind int

const (
	// Internal is anything not classified otherwise.
	Internal Kind = iota
	// Transient covers network failures, timeouts and rate limiting.
	Transient
	// Auth means the credential was rejected by the platform.
	Auth
	// NotFound means a topic, post, author or credential is absent.
	NotFound
	// Conflict means a concurrent writer won a uniqueness race.
	Conflict
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. A nil err still produces an error so that
// sentinel values can be declared with it.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transientf builds a transient error from a format string.
func Transientf(op, format string, args ...any) error {
	return &Error{Kind: Transient, Op: op, Err: fmt.Errorf(format, args...)}
}

// Authf builds an authentication error from a format string.
func Authf(op, format string, args ...any) error {
	return &Error{Kind: Auth, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Deadline and network timeouts are transient
// even when nobody tagged them.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return Transient
	}
	return Internal
}

// IsTransient reports whether err should simply be retried on the next tick.
func IsTransient(err error) bool { return err != nil && KindOf(err) == Transient }

// IsAuth reports whether err is a rejected credential.
func IsAuth(err error) bool { return err != nil && KindOf(err) == Auth }

// IsNotFound reports whether err means "absent".
func IsNotFound(err error) bool { return err != nil && KindOf(err) == NotFound }
