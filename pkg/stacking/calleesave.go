// Package stacking synthesizes the entry and exit sequences that preserve
// callee-saved registers around a generated kernel.
package stacking

import "github.com/raymyers/multistride/pkg/regalloc"

// CalleeSaveInfo lists the registers the prologue saves, in push order.
type CalleeSaveInfo struct {
	Regs []string
}

// FindUsedCalleeSaveRegs collects the callee-saved registers handed out by
// each allocator. Allocators are visited in argument order and each
// contributes its registers in the order first used.
func FindUsedCalleeSaveRegs(allocs ...*regalloc.Allocator) *CalleeSaveInfo {
	info := &CalleeSaveInfo{}
	seen := make(map[string]bool)
	for _, a := range allocs {
		for _, r := range a.UsedCalleeSaved() {
			if seen[r] {
				continue
			}
			seen[r] = true
			info.Regs = append(info.Regs, r)
		}
	}
	return info
}
