// Package asm defines the x86-64 translation unit emitted for one kernel and
// prints it in GNU as AT&T syntax.
package asm

import "fmt"

// Program is one translation unit: a single entry function plus data objects.
// Prologue, Body and Epilogue hold fully formatted lines.
type Program struct {
	Source     string // name recorded by the .file directive
	Entry      string // entry function symbol
	EntryLabel int    // local label placed right after the entry symbol
	Prologue   []string
	Body       []string
	Epilogue   []string
	Data       []DataObject
}

// DataObject is a global object made of 32-bit words.
type DataObject struct {
	Name  string
	Align int
	Longs []uint32
}

// Size returns the object size in bytes.
func (d DataObject) Size() int {
	return 4 * len(d.Longs)
}

// Count64 returns a data object holding n as two little-endian 32-bit halves,
// low word first.
func Count64(name string, n int64) DataObject {
	u := uint64(n)
	return DataObject{
		Name:  name,
		Align: 8,
		Longs: []uint32{uint32(u & 0xffffffff), uint32(u >> 32)},
	}
}

// LocalLabel returns the name of local label n.
func LocalLabel(n int) string {
	return fmt.Sprintf("..B1.%d", n)
}

// Reg returns the AT&T operand for a register alias.
func Reg(alias string) string {
	return "%" + alias
}

// Imm returns the AT&T immediate operand for v.
func Imm(v int64) string {
	return fmt.Sprintf("$%d", v)
}

// Mem returns a base+displacement memory operand, e.g. "64(%rdi)".
func Mem(disp int64, base string) string {
	if disp == 0 {
		return fmt.Sprintf("(%s)", Reg(base))
	}
	return fmt.Sprintf("%d(%s)", disp, Reg(base))
}
