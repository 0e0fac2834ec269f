package regalloc

import (
	"github.com/sirupsen/logrus"

	"github.com/raymyers/multistride/pkg/skip"
)

// Register is a handle to an allocated physical register.
type Register struct {
	Canonical string // name in the set's default column
	Alias     string // name at the requested width
	Set       string // owning set name
}

// Operand returns the AT&T operand form, e.g. "%rax".
func (r Register) Operand() string {
	return "%" + r.Alias
}

func (r Register) String() string {
	return r.Alias
}

// DiagnosticKind classifies a non-fatal integrity warning.
type DiagnosticKind int

const (
	DoubleReserve DiagnosticKind = iota + 1
	DoubleRelease
	DuplicateVariable
	LeakedBinding
)

func (k DiagnosticKind) String() string {
	switch k {
	case DoubleReserve:
		return "double-reserve"
	case DoubleRelease:
		return "double-release"
	case DuplicateVariable:
		return "duplicate-variable"
	case LeakedBinding:
		return "leaked-binding"
	default:
		return "unknown"
	}
}

// Diagnostic records an allocator misuse. The build still completes.
type Diagnostic struct {
	Kind     DiagnosticKind
	Register string
	Variable string
}

// Allocator tracks availability for one register set.
// A register is available iff no variable is bound to it.
type Allocator struct {
	set        *Set
	available  []bool
	cursor     int
	usedCallee []string
	calleeSeen map[string]bool
	diags      []Diagnostic
	log        *logrus.Entry
}

// NewAllocator creates an allocator with every register available and the
// cursor at the first register. A nil log uses the standard logger.
func NewAllocator(set *Set, log *logrus.Entry) *Allocator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	available := make([]bool, set.Len())
	for i := range available {
		available[i] = true
	}
	return &Allocator{
		set:        set,
		available:  available,
		calleeSeen: make(map[string]bool),
		log:        log.WithField("set", set.Name),
	}
}

// Set returns the register set this allocator manages.
func (a *Allocator) Set() *Set {
	return a.set
}

// Owns reports whether canonical names a register of this set.
func (a *Allocator) Owns(canonical string) bool {
	_, ok := a.set.Index(canonical)
	return ok
}

// Available reports whether canonical is currently free.
func (a *Allocator) Available(canonical string) bool {
	i, ok := a.set.Index(canonical)
	return ok && a.available[i]
}

// Cursor returns the position the next Obtain scan starts from.
func (a *Allocator) Cursor() int {
	return a.cursor
}

// UsedCalleeSaved returns every callee-saved register ever handed out, in
// the order first used.
func (a *Allocator) UsedCalleeSaved() []string {
	out := make([]string, len(a.usedCallee))
	copy(out, a.usedCallee)
	return out
}

// Diagnostics returns the integrity warnings recorded so far.
func (a *Allocator) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(a.diags))
	copy(out, a.diags)
	return out
}

// Alias resolves a sized alias for canonical.
func (a *Allocator) Alias(canonical string, col Column) (string, error) {
	i, ok := a.set.Index(canonical)
	if !ok {
		return "", skip.New(skip.UnknownRegister, "register %s is not in set %s", canonical, a.set.Name)
	}
	return a.set.Alias(i, col)
}

// Reserve claims a specific register regardless of policy, e.g. an ABI
// argument register. Reserving an unavailable register is recorded as a
// DoubleReserve diagnostic and still succeeds.
func (a *Allocator) Reserve(canonical string, col Column) (Register, error) {
	i, ok := a.set.Index(canonical)
	if !ok {
		return Register{}, skip.New(skip.UnknownRegister, "register %s is not in set %s", canonical, a.set.Name)
	}
	alias, err := a.set.Alias(i, col)
	if err != nil {
		return Register{}, err
	}
	if !a.available[i] {
		a.warn(Diagnostic{Kind: DoubleReserve, Register: canonical}, "reserving an unavailable register")
	}
	return a.take(i, alias), nil
}

// Release returns canonical to the pool. Releasing a free register is
// recorded as a DoubleRelease diagnostic.
func (a *Allocator) Release(canonical string) error {
	i, ok := a.set.Index(canonical)
	if !ok {
		return skip.New(skip.UnknownRegister, "register %s is not in set %s", canonical, a.set.Name)
	}
	if a.available[i] {
		a.warn(Diagnostic{Kind: DoubleRelease, Register: canonical}, "releasing an available register")
	}
	a.available[i] = true
	return nil
}

// Obtain picks a free register.
//
// The scan starts at the cursor and returns the first free caller-saved
// register, moving the cursor just past it. Only when none is free does it
// fall back to the first free callee-saved register met during the scan; the
// cursor then stays put so later calls keep landing on the same callee-saved
// registers instead of touching new ones.
func (a *Allocator) Obtain(col Column) (Register, error) {
	n := a.set.Len()
	found, advance := -1, false
	var callee []int

	for step := 0; step < n; step++ {
		pos := (a.cursor + step) % n
		if a.set.Descriptors[pos].CalleeSaved {
			callee = append(callee, pos)
			continue
		}
		if a.available[pos] {
			found, advance = pos, true
			break
		}
	}
	if found < 0 {
		for _, pos := range callee {
			if a.available[pos] {
				found = pos
				break
			}
		}
	}
	if found < 0 {
		a.log.Warn("no available register could be found")
		return Register{}, skip.New(skip.Exhausted, "all %d registers of set %s are in use", n, a.set.Name)
	}

	alias, err := a.set.Alias(found, col)
	if err != nil {
		return Register{}, err
	}
	if advance {
		a.cursor = (found + 1) % n
	}
	return a.take(found, alias), nil
}

func (a *Allocator) take(i int, alias string) Register {
	canonical := a.set.Canonical(i)
	a.available[i] = false
	if a.set.Descriptors[i].CalleeSaved && !a.calleeSeen[canonical] {
		a.calleeSeen[canonical] = true
		a.usedCallee = append(a.usedCallee, canonical)
	}
	return Register{Canonical: canonical, Alias: alias, Set: a.set.Name}
}

func (a *Allocator) warn(d Diagnostic, msg string) {
	a.diags = append(a.diags, d)
	a.log.WithFields(logrus.Fields{
		"register": d.Register,
		"kind":     d.Kind.String(),
	}).Warn(msg)
}
