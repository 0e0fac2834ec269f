package regalloc

import (
	"fmt"

	"github.com/pkg/errors"
)

// x86-64 scalar columns
const (
	Col64 Column = iota
	Col32
	Col16
	Col8High
	Col8
)

// Vector columns
const (
	ColZMM Column = iota
	ColYMM
	ColXMM
)

// System V callee-saved: rbx, rbp, r12-r15.
// rsp is listed as caller-saved; kernels reserve it explicitly so it is never handed out.
var x86Scalar = []Descriptor{
	{[]string{"rax", "eax", "ax", "ah", "al"}, false},
	{[]string{"rbx", "ebx", "bx", "bh", "bl"}, true},
	{[]string{"rcx", "ecx", "cx", "ch", "cl"}, false},
	{[]string{"rdx", "edx", "dx", "dh", "dl"}, false},
	{[]string{"rsi", "esi", "si", "", "sil"}, false},
	{[]string{"rdi", "edi", "di", "", "dil"}, false},
	{[]string{"rbp", "ebp", "bp", "", "bpl"}, true},
	{[]string{"rsp", "esp", "sp", "", "spl"}, false},
	{[]string{"r8", "r8d", "r8w", "", "r8b"}, false},
	{[]string{"r9", "r9d", "r9w", "", "r9b"}, false},
	{[]string{"r10", "r10d", "r10w", "", "r10b"}, false},
	{[]string{"r11", "r11d", "r11w", "", "r11b"}, false},
	{[]string{"r12", "r12d", "r12w", "", "r12b"}, true},
	{[]string{"r13", "r13d", "r13w", "", "r13b"}, true},
	{[]string{"r14", "r14d", "r14w", "", "r14b"}, true},
	{[]string{"r15", "r15d", "r15w", "", "r15b"}, true},
}

// X86_64 returns the general purpose register set, named by 64-bit alias.
func X86_64() *Set {
	descs := make([]Descriptor, len(x86Scalar))
	copy(descs, x86Scalar)
	return &Set{
		Name:          "default",
		Columns:       []string{"64", "32", "16", "8h", "8"},
		Descriptors:   descs,
		DefaultColumn: Col64,
	}
}

func vectorDescriptors(n int) []Descriptor {
	descs := make([]Descriptor, n)
	for i := range descs {
		descs[i] = Descriptor{
			Aliases: []string{fmt.Sprintf("zmm%d", i), fmt.Sprintf("ymm%d", i), fmt.Sprintf("xmm%d", i)},
		}
	}
	return descs
}

// VectorSet returns the SIMD register set for a vector width in bits.
// 512-bit vectors get the 32 AVX-512 registers; narrower widths get the 16
// registers addressable without EVEX encoding, named by ymm or xmm alias.
func VectorSet(vectorBits int) (*Set, error) {
	var n int
	var col Column
	switch vectorBits {
	case 512:
		n, col = 32, ColZMM
	case 256:
		n, col = 16, ColYMM
	case 128:
		n, col = 16, ColXMM
	default:
		return nil, errors.Errorf("unsupported vector width %d bits", vectorBits)
	}
	return &Set{
		Name:          "simd",
		Columns:       []string{"512", "256", "128"},
		Descriptors:   vectorDescriptors(n),
		DefaultColumn: col,
	}, nil
}
