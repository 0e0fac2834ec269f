package asm

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPrintProgram(t *testing.T) {
	f := DefaultFormat
	prog := &Program{
		Source:     "k_1_1_8_8.gen",
		Entry:      "experiment",
		EntryLabel: 3,
		Prologue:   []string{f.Statement("pushq", "%rbx")},
		Body:       []string{f.Statement("xorq", "%rax", "%rax")},
		Epilogue:   []string{f.Statement("popq", "%rbx"), f.Statement("mfence"), f.Statement("ret")},
		Data:       []DataObject{Count64("N", 8)},
	}

	want := []string{
		`    .file "k_1_1_8_8.gen"`,
		"    .text",
		"    .align    16,0x90",
		"    .globl experiment",
		"experiment:",
		"..B1.3:",
		"    .cfi_startproc",
		"        pushq     %rbx",
		"        xorq      %rax, %rax",
		"        popq      %rbx",
		"        mfence",
		"        ret",
		"    .cfi_endproc",
		"    .type\texperiment,@function",
		"    .size\texperiment,.-experiment",
		"    .data",
		"    .align 8",
		"    .global N",
		"N:",
		"    .long\t0x8,0x0",
		"    .type\tN,@object",
		"    .size\tN,8",
		`    .section .note.GNU-stack, ""`,
	}
	got := strings.Split(strings.TrimSuffix(Text(prog, DefaultFormat), "\n"), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PrintProgram mismatch (-want +got):\n%s", diff)
	}
}

func TestCount64(t *testing.T) {
	tests := []struct {
		n    int64
		want []uint32
	}{
		{0, []uint32{0, 0}},
		{536870400, []uint32{536870400, 0}},
		{1 << 32, []uint32{0, 1}},
		{(3 << 32) | 7, []uint32{7, 3}},
	}
	for _, tt := range tests {
		d := Count64("N", tt.n)
		if diff := cmp.Diff(tt.want, d.Longs); diff != "" {
			t.Errorf("Count64(%d) mismatch (-want +got):\n%s", tt.n, diff)
		}
		if d.Size() != 8 {
			t.Errorf("Count64(%d).Size() = %d, want 8", tt.n, d.Size())
		}
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestPrintProgramWriteError(t *testing.T) {
	err := NewPrinter(failWriter{}).PrintProgram(&Program{Entry: "experiment"})
	if err == nil || err.Error() != "disk full" {
		t.Errorf("PrintProgram error = %v, want disk full", err)
	}
}
