// Package regalloc hands out physical registers to hand-written kernels.
//
// There is no spilling: a register set is a fixed, ordered list of physical
// registers and the allocator either finds a free one or reports exhaustion.
// The allocation policy prefers caller-saved registers and, under pressure,
// keeps re-using the same callee-saved registers so that the prologue and
// epilogue stay short.
package regalloc

import (
	"github.com/pkg/errors"

	"github.com/raymyers/multistride/pkg/skip"
)

// Column selects one alias width inside a Descriptor.
// DefaultColumn means the set's default naming width.
type Column int

const DefaultColumn Column = -1

// Descriptor is one physical register: its aliases by column and whether the
// ABI requires the callee to preserve it.
// An empty alias means the width has no name for this register.
type Descriptor struct {
	Aliases     []string
	CalleeSaved bool
}

// Set is an ordered list of physical registers sharing one column layout.
type Set struct {
	Name          string
	Columns       []string // column labels, e.g. "64", "32"
	Descriptors   []Descriptor
	DefaultColumn Column
}

// Len returns the number of registers in the set.
func (s *Set) Len() int {
	return len(s.Descriptors)
}

// Canonical returns the canonical name of the i'th register.
func (s *Set) Canonical(i int) string {
	return s.Descriptors[i].Aliases[s.DefaultColumn]
}

// Names returns canonical names in allocation order.
func (s *Set) Names() []string {
	names := make([]string, len(s.Descriptors))
	for i := range s.Descriptors {
		names[i] = s.Canonical(i)
	}
	return names
}

// Index returns the position of a canonical register name.
func (s *Set) Index(canonical string) (int, bool) {
	for i := range s.Descriptors {
		if s.Canonical(i) == canonical {
			return i, true
		}
	}
	return 0, false
}

// Alias resolves the alias of register i in column col.
func (s *Set) Alias(i int, col Column) (string, error) {
	if col == DefaultColumn {
		col = s.DefaultColumn
	}
	d := s.Descriptors[i]
	if int(col) < 0 || int(col) >= len(d.Aliases) || d.Aliases[col] == "" {
		return "", skip.New(skip.UnknownRegister, "%s has no alias in column %d of set %s", s.Canonical(i), col, s.Name)
	}
	return d.Aliases[col], nil
}

// Validate checks the column layout and that no alias belongs to two registers.
func (s *Set) Validate() error {
	if len(s.Descriptors) == 0 {
		return errors.Errorf("register set %s is empty", s.Name)
	}
	if int(s.DefaultColumn) < 0 || int(s.DefaultColumn) >= len(s.Columns) {
		return errors.Errorf("register set %s: default column %d out of range", s.Name, s.DefaultColumn)
	}
	owner := make(map[string]int)
	for i, d := range s.Descriptors {
		if len(d.Aliases) != len(s.Columns) {
			return errors.Errorf("register set %s: descriptor %d has %d aliases, want %d", s.Name, i, len(d.Aliases), len(s.Columns))
		}
		if d.Aliases[s.DefaultColumn] == "" {
			return errors.Errorf("register set %s: descriptor %d has no canonical name", s.Name, i)
		}
		for _, alias := range d.Aliases {
			if alias == "" {
				continue
			}
			if j, ok := owner[alias]; ok && j != i {
				return errors.Errorf("register set %s: alias %s shared by %s and %s", s.Name, alias, s.Canonical(j), s.Canonical(i))
			}
			owner[alias] = i
		}
	}
	return nil
}
