package mm

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// freeUserSpaceFn is used by tests to override the call to
// vmm.FreeUserSpace, which will fault if invoked against a fake page
// directory outside a real kernel.
var freeUserSpaceFn = vmm.FreeUserSpace

// Destroy releases every user-space mapping and frame owned by m's page
// directory via vmm.FreeUserSpace, then drops its VMA list. It does not
// free the page directory frame itself; the process control block that
// owns m is responsible for that, after its kernel stack has also been
// torn down.
func Destroy(m *MM, allocFn vmm.FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
	if err := freeUserSpaceFn(pmm.FrameForAddress(m.PDFrame), allocFn, putFrameFn); err != nil {
		return err
	}
	m.vmas = nil
	return nil
}
