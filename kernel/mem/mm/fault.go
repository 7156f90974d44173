package mm

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// mapFn is used by tests to override the call to vmm.Map, which will
// fault if invoked against a fake recursive mapping outside a real kernel.
var mapFn = vmm.Map

// current is the descriptor consulted by the page fault policy installed
// via vmm.SetPageFaultPolicy. This core does not implement a scheduler, so
// the single currently-dispatched process publishes its mm here before it
// runs; a real scheduler would update it on every context switch.
var current *MM

// SetCurrent records m as the memory descriptor to consult for page
// faults. Passing nil means no process is running and every fault is
// fatal.
func SetCurrent(m *MM) {
	current = m
}

// Current returns the descriptor set by SetCurrent.
func Current() *MM {
	return current
}

// HandleFault resolves a page fault at addr against this descriptor's VMA
// list, following the dispatch order from the paging engine's fault
// contract: missing VMA is fatal, a GROWS_DOWN area one page below its
// start is extended, a write against a writable VMA's read-only page is
// materialized on demand, and anything else is a permission violation.
// It returns true if the fault was repaired and the faulting instruction
// should be retried.
func (m *MM) HandleFault(addr uintptr, write, userMode bool, allocFn vmm.FrameAllocatorFn) bool {
	vma := m.FindVMA(addr)

	if vma == nil {
		if extended := m.tryGrowDown(addr); extended != nil {
			vma = extended
		} else {
			return false
		}
	}

	if write && vma.Flags&VMAWrite == 0 {
		return false
	}
	if userMode && vma.Flags&VMAUser == 0 {
		return false
	}

	return materializePage(vmm.PageFromAddress(addr), vma.Prot, allocFn)
}

// tryGrowDown looks for a GROWS_DOWN area whose current start is exactly
// one page above addr, and if found extends it down to cover addr,
// returning the (mutated) area. Returns nil if no such area exists.
func (m *MM) tryGrowDown(addr uintptr) *VMA {
	page := vmm.PageFromAddress(addr).Address()
	for _, v := range m.vmas {
		if v.Flags&VMAGrowsDown != 0 && v.Start == page+uintptr(mem.PageSize) {
			v.Start = page
			return v
		}
	}
	return nil
}

// materializePage allocates a zero-filled frame and maps it at page with
// prot, used both for on-demand write materialization and for extending a
// GROWS_DOWN area. Returns false if the frame allocator or mapper fails.
func materializePage(page vmm.Page, prot vmm.PageTableEntryFlag, allocFn vmm.FrameAllocatorFn) bool {
	if allocFn == nil {
		return false
	}
	frame, err := allocFn()
	if err != nil {
		return false
	}
	if err := mapFn(page, frame, prot, allocFn); err != nil {
		return false
	}
	return true
}
