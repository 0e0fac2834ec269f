// Package kernels holds the memory-movement kernels built on codegen.
package kernels

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/raymyers/multistride/pkg/codegen"
	"github.com/raymyers/multistride/pkg/generator"
	"github.com/raymyers/multistride/pkg/regalloc"
)

// All returns one instance of every kernel.
func All() []generator.Kernel {
	return []generator.Kernel{
		&DataMovement{Kernel: "alignedread", Op: load("vmovaps")},
		&DataMovement{Kernel: "unalignedread", Op: load("vmovups"), Unaligned: true},
		&DataMovement{Kernel: "streamread", Op: load("vmovntdqa")},
		&DataMovement{Kernel: "alignedwrite", Op: store("vmovaps"), Writes: true, ZeroInit: true},
		&DataMovement{Kernel: "unalignedwrite", Op: store("vmovups"), Writes: true, Unaligned: true},
		&DataMovement{Kernel: "streamwritegrouped", Op: store("vmovntdq"), Writes: true},
		&DataMovement{Kernel: "streamwriteinterleaved", Op: store("vmovntdq"), Writes: true, Interleaved: true},
		&DataCopy{Kernel: "alignedreadalignedwritecopy", Load: load("vmovaps"), Store: store("vmovaps")},
		&DataCopy{Kernel: "alignedreadstreamwritecopy", Load: load("vmovaps"), Store: store("vmovntdq")},
		&DataCopy{Kernel: "streamreadalignedwritecopy", Load: load("vmovntdqa"), Store: store("vmovaps")},
		&DataCopy{Kernel: "streamreadstreamwritecopy", Load: load("vmovntdqa"), Store: store("vmovntdq")},
	}
}

// Registry maps kernel names to kernels.
func Registry() map[string]generator.Kernel {
	m := make(map[string]generator.Kernel)
	for _, k := range All() {
		m[k.Name()] = k
	}
	return m
}

// Names returns the registered kernel names, sorted.
func Names() []string {
	var names []string
	for _, k := range All() {
		names = append(names, k.Name())
	}
	sort.Strings(names)
	return names
}

// Op renders one vector memory access between a vector register and a
// memory operand.
type Op func(vec, mem string) (mnemonic string, operands []string)

func load(mnemonic string) Op {
	return func(vec, mem string) (string, []string) {
		return mnemonic, []string{mem, vec}
	}
}

func store(mnemonic string) Op {
	return func(vec, mem string) (string, []string) {
		return mnemonic, []string{vec, mem}
	}
}

func emit(cc *codegen.Context, op Op, vec, mem string) {
	mnemonic, operands := op(vec, mem)
	cc.Statement(mnemonic, operands...)
}

// aligned rejects byte offsets that would break vector alignment.
func aligned(env *generator.Env, bytes int) (int, error) {
	if vb := env.Machine.VectorBytes(); bytes%vb != 0 {
		return 0, errors.Errorf("offset %d is not a multiple of the %d byte vector width", bytes, vb)
	}
	return bytes, nil
}

// bindEntry binds the data pointer argument and pins the stack pointer.
func bindEntry(cc *codegen.Context) error {
	if _, err := cc.SetVariable("rdi", "D", regalloc.DefaultColumn); err != nil {
		return err
	}
	_, err := cc.SetVariable("rsp", "stack_ptr", regalloc.DefaultColumn)
	return err
}

func unsetAll(cc *codegen.Context, variables ...string) error {
	for _, v := range variables {
		if err := cc.UnsetVariable(v); err != nil {
			return err
		}
	}
	return nil
}
