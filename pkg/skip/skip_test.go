package skip

import (
	"testing"

	"github.com/pkg/errors"
)

func TestReasonString(t *testing.T) {
	tests := []struct {
		r    Reason
		want string
	}{
		{Unrepresentable, "unrepresentable"},
		{Exhausted, "exhausted"},
		{ListLengthMismatch, "list-length-mismatch"},
		{UnknownRegister, "unknown-register"},
		{Reason(42), "reason(42)"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("Reason(%d).String() = %q, want %q", int(tt.r), got, tt.want)
		}
	}
}

func TestReasonOfWrapped(t *testing.T) {
	err := errors.Wrap(New(Exhausted, "no %s register", "simd"), "building alignedread")

	r, ok := ReasonOf(err)
	if !ok {
		t.Fatalf("ReasonOf(%v) found no reason", err)
	}
	if r != Exhausted {
		t.Errorf("reason = %v, want %v", r, Exhausted)
	}
	if !errors.Is(err, &Error{Reason: Exhausted}) {
		t.Errorf("errors.Is did not match Exhausted")
	}
	if errors.Is(err, &Error{Reason: Unrepresentable}) {
		t.Errorf("errors.Is matched the wrong reason")
	}
}

func TestIsSkipPlainError(t *testing.T) {
	if IsSkip(errors.New("compiler exited 1")) {
		t.Errorf("plain error reported as skip")
	}
	if IsSkip(nil) {
		t.Errorf("nil reported as skip")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(Unrepresentable, "N=%d", 7)
	if got := err.Error(); got != "unrepresentable: N=7" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&Error{Reason: Exhausted}).Error(); got != "exhausted" {
		t.Errorf("Error() = %q", got)
	}
}
