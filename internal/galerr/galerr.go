// Package galerr defines the value-level error taxonomy shared across the
// engine (spec §7). Errors are still ordinary Go errors wrapped with
// github.com/pkg/errors for stack context; KindOf recovers the taxonomy
// value for callers (notably the CLI) that need to branch on it.
package galerr

import "github.com/pkg/errors"

// Kind classifies a failure for retry/propagation/exit-code decisions.
type Kind int

const (
	// Unknown is the zero value: an error with no assigned taxonomy kind.
	Unknown Kind = iota
	// AuthExpired indicates a 401 from any endpoint.
	AuthExpired
	// NotFound indicates a 404, an empty patch error_description, or a
	// delisted manifest.
	NotFound
	// Transient indicates a connection reset, 5xx, 408, 429, or truncated
	// body — internally retried with backoff.
	Transient
	// HashMismatch indicates a downloaded body's MD5 didn't match.
	HashMismatch
	// Unsupported indicates a patch algorithm other than xdelta3, or an
	// unknown RGOG version/type.
	Unsupported
	// InvalidArchive indicates a malformed RGOG container.
	InvalidArchive
	// Cancelled indicates the operation's cancellation token was tripped.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case AuthExpired:
		return "AuthExpired"
	case NotFound:
		return "NotFound"
	case Transient:
		return "Transient"
	case HashMismatch:
		return "HashMismatch"
	case Unsupported:
		return "Unsupported"
	case InvalidArchive:
		return "InvalidArchive"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// kindError pairs an error with its taxonomy Kind.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.kind.String() + ": " + e.err.Error() }
func (e *kindError) Cause() error  { return e.err }
func (e *kindError) Unwrap() error { return e.err }

// New wraps err with the given Kind. If err is nil, New returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Errorf constructs a new error of the given Kind from a format string.
func Errorf(kind Kind, format string, args ...any) error {
	return New(kind, errors.Errorf(format, args...))
}

// KindOf recovers the taxonomy Kind of err, walking wrapped causes. Returns
// Unknown if no kindError is found in the chain.
func KindOf(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke.kind
		}
		cause := errors.Unwrap(err)
		if cause == nil {
			if causer, ok := err.(interface{ Cause() error }); ok {
				cause = causer.Cause()
			}
		}
		if cause == err || cause == nil {
			break
		}
		err = cause
	}
	return Unknown
}

// Is reports whether err's Kind equals k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
