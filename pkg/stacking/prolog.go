package stacking

import "github.com/raymyers/multistride/pkg/asm"

// GeneratePrologue pushes every saved register.
func GeneratePrologue(f asm.Format, cs *CalleeSaveInfo) []string {
	prologue := make([]string, 0, len(cs.Regs))
	for _, r := range cs.Regs {
		prologue = append(prologue, f.Statement("pushq", asm.Reg(r)))
	}
	return prologue
}

// GenerateEpilogue pops the saved registers in reverse push order, then
// fences memory before returning so every store issued by the kernel is
// globally visible when control reaches the caller.
func GenerateEpilogue(f asm.Format, cs *CalleeSaveInfo) []string {
	epilogue := make([]string, 0, len(cs.Regs)+2)
	for i := len(cs.Regs) - 1; i >= 0; i-- {
		epilogue = append(epilogue, f.Statement("popq", asm.Reg(cs.Regs[i])))
	}
	epilogue = append(epilogue, f.Statement("mfence"), f.Statement("ret"))
	return epilogue
}
