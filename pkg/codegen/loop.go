package codegen

import (
	"github.com/pkg/errors"

	"github.com/raymyers/multistride/pkg/asm"
	"github.com/raymyers/multistride/pkg/regalloc"
)

// Loop is an unsigned counting loop. The counter is incremented before the
// first body statement, so the body first runs with the counter at 1 and
// the loop exits once the counter reaches the limit.
//
// The counter register stays allocated after End; release it with
// Release or UnsetRegister.
type Loop struct {
	c      *Context
	reg    regalloc.Register
	start  int
	end    int
	limit  string
	closed bool
}

// BeginFor obtains a counter, zeroes it, and opens the loop body. limit is
// an operand text such as "$64" or "%rcx" and is emitted as given.
func (c *Context) BeginFor(limit string) (*Loop, error) {
	reg, err := c.GetRegister(Scalar, "", regalloc.DefaultColumn)
	if err != nil {
		return nil, err
	}
	l := &Loop{c: c, reg: reg, start: c.GetLabel(), limit: limit}
	op := reg.Operand()
	c.Statement("xorq", op, op)
	c.Label(l.start)
	c.Statement("incq", op)
	return l, nil
}

// End closes the loop: compare, branch back while below the limit, and the
// end label.
func (l *Loop) End() error {
	if l.closed {
		return errors.Errorf("loop at label %d already closed", l.start)
	}
	l.closed = true
	l.end = l.c.GetLabel()
	l.c.Statement("cmpq", l.limit, l.reg.Operand())
	l.c.Statement("jb", asm.LocalLabel(l.start))
	l.c.Label(l.end)
	return nil
}

// Register returns the counter register.
func (l *Loop) Register() regalloc.Register { return l.reg }

// StartLabel returns the label number at the top of the body.
func (l *Loop) StartLabel() int { return l.start }

// EndLabel returns the label number after the loop, or 0 before End.
func (l *Loop) EndLabel() int { return l.end }

// Release frees the counter register.
func (l *Loop) Release() error {
	return l.c.UnsetRegister(l.reg.Canonical)
}

// For emits a loop around body. The loop is closed even when body fails;
// the returned Loop still owns its counter.
func (c *Context) For(limit string, body func(*Loop) error) (*Loop, error) {
	l, err := c.BeginFor(limit)
	if err != nil {
		return nil, err
	}
	bodyErr := body(l)
	if err := l.End(); err != nil {
		return l, err
	}
	return l, bodyErr
}
