// Package skip describes the recoverable failures that drop a single kernel
// configuration from a sweep without aborting it.
package skip

import (
	"fmt"

	"github.com/pkg/errors"
)

// Reason classifies why a configuration could not be generated.
type Reason int

const (
	// Unrepresentable means no aligned size satisfies the unroll factors.
	Unrepresentable Reason = iota + 1
	// Exhausted means a register set had no free register left.
	Exhausted
	// ListLengthMismatch means stride and portion unroll lists differ in length.
	ListLengthMismatch
	// UnknownRegister means a register or alias is not part of any set.
	UnknownRegister
)

func (r Reason) String() string {
	switch r {
	case Unrepresentable:
		return "unrepresentable"
	case Exhausted:
		return "exhausted"
	case ListLengthMismatch:
		return "list-length-mismatch"
	case UnknownRegister:
		return "unknown-register"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Error is a recoverable failure carrying its Reason.
type Error struct {
	Reason Reason
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Reason.String()
	}
	return e.Reason.String() + ": " + e.Msg
}

// Is matches any *Error with the same Reason, so errors.Is(err, &Error{Reason: Exhausted}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// New returns a skip error with a formatted message.
func New(r Reason, format string, args ...interface{}) error {
	return &Error{Reason: r, Msg: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the Reason from err, looking through wrapping.
func ReasonOf(err error) (Reason, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return 0, false
}

// IsSkip reports whether err is a recoverable skip.
func IsSkip(err error) bool {
	_, ok := ReasonOf(err)
	return ok
}
