package process

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// DestroyProcess releases every resource CreateUserProcess established,
// in the order that ordering depends on: the mm (user page tables and
// frames, via destroyMMFn) first, then the kernel stack (which is read
// through the kernel page directory, not the one the mm just tore down),
// then the process's own page directory frame, last. The caller must
// ensure proc is not the currently dispatched process and holds no CPU.
//
// All three steps always run, even if an earlier one fails: a PCB being
// destroyed has no further use for a half-freed mm, so leaving its kernel
// stack or page directory frame leaked on top of that is strictly worse
// than continuing best-effort. The first error encountered is returned.
func DestroyProcess(proc *PCB, allocFn vmm.FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
	if proc == nil {
		return nil
	}

	var firstErr *kernel.Error

	if proc.MM != nil {
		if err := destroyMMFn(proc.MM, allocFn, putFrameFn); err != nil {
			firstErr = err
		}
		proc.MM = nil
	}

	if proc.KernelStackVaddrTop != 0 {
		if err := freeKernelStack(proc.KernelStackVaddrTop, putFrameFn); err != nil && firstErr == nil {
			firstErr = err
		}
		proc.KernelStackVaddrTop = 0
	}

	if proc.PageDirectoryPhys != 0 {
		if _, err := putFrameFn(pmm.FrameForAddress(proc.PageDirectoryPhys)); err != nil && firstErr == nil {
			firstErr = err
		}
		proc.PageDirectoryPhys = 0
	}

	return firstErr
}
