package vmm

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/config"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

// pdtInitFn lets tests stub out PageDirectoryTable.Init without needing a
// real MMU behind activePDTFn/mapTemporaryFn.
var pdtInitFn = func(pdt *PageDirectoryTable, f pmm.Frame, allocFn FrameAllocatorFn) *kernel.Error {
	return pdt.Init(f, allocFn)
}

// pageTableSpan is the virtual address range covered by a single page
// directory entry: 4 MiB on the non-PAE i386 scheme this kernel targets.
const pageTableSpan = uintptr(1) << pageLevelShifts[0]

// KernelDirectory is the result of InitializeDirectory: the PDT handle
// along with the physical and virtual addresses of the page directory it
// wraps.
type KernelDirectory struct {
	PDT      PageDirectoryTable
	PhysAddr uintptr
	VirtAddr uintptr
}

// InitializeDirectory builds the kernel's own page directory. It allocates
// a fresh PD frame, zeroes it and installs its recursive self-mapping (via
// PageDirectoryTable.Init), identity-maps and higher-half-maps the kernel
// image's physical range [kernelPhysStart, kernelPhysEnd) so code keeps
// running correctly across the switch to this PD, reserves (but does not
// populate) the page tables covering the kernel heap arena so kheap's
// later per-page mapping never needs to allocate a PDE, and finally
// activates the new directory.
//
// This must run before any process page directory is cloned from the
// kernel one: PageDirectoryTable.InitFromKernel reads kernel PDEs out of
// whichever PD is active at the time it runs, and there is nothing to copy
// until this function has built and activated one.
func InitializeDirectory(kernelPhysStart, kernelPhysEnd uintptr, allocFn FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) (KernelDirectory, *kernel.Error) {
	pdFrame, err := allocFn()
	if err != nil {
		return KernelDirectory{}, err
	}

	var pdt PageDirectoryTable
	if err := pdtInitFn(&pdt, pdFrame, allocFn); err != nil {
		return KernelDirectory{}, err
	}

	pageMask := uintptr(mem.PageSize) - 1
	start := kernelPhysStart &^ pageMask
	end := (kernelPhysEnd + pageMask) &^ pageMask

	for phys := start; phys < end; phys += uintptr(mem.PageSize) {
		// The kernel image is already resident at phys; no allocation is
		// needed to back either mapping.
		frame := pmm.FrameForAddress(phys)

		if err := pdt.Map(PageFromAddress(phys), frame, FlagPresent|FlagRW, allocFn); err != nil {
			return KernelDirectory{}, err
		}

		higherHalf := config.KernelVirtBase + (phys - start)
		if err := pdt.Map(PageFromAddress(higherHalf), frame, FlagPresent|FlagRW, allocFn); err != nil {
			return KernelDirectory{}, err
		}
	}

	if err := reserveHeapPageTables(&pdt, allocFn, putFrameFn); err != nil {
		return KernelDirectory{}, err
	}

	pdt.Activate()

	return KernelDirectory{PDT: pdt, PhysAddr: pdFrame.Address(), VirtAddr: pdtVirtualAddr}, nil
}

// reserveHeapPageTables forces the page tables covering
// [config.KheapVirtStart, config.KheapVirtEnd) into existence without
// populating any of their entries with real content: each 4 MiB chunk gets
// a single throwaway frame mapped and immediately unmapped. Map's walk
// allocates and clears the missing page table as a side effect of placing
// that one entry; Unmap only clears the entry's present bit, so the page
// table itself survives, present and empty, for kheap's lazy per-page
// population to fill in later. This costs one frame per 4 MiB chunk
// instead of one per 4 KiB page, and the throwaway frame is handed back via
// putFrameFn once Unmap has cleared its one PTE, since only the page table
// it forced into existence needs to survive.
func reserveHeapPageTables(pdt *PageDirectoryTable, allocFn FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
	for vaddr := config.KheapVirtStart; vaddr < config.KheapVirtEnd; vaddr += pageTableSpan {
		scratch, err := allocFn()
		if err != nil {
			return err
		}

		page := PageFromAddress(vaddr)
		if err := pdt.Map(page, scratch, FlagPresent|FlagRW, allocFn); err != nil {
			return err
		}
		if err := pdt.Unmap(page); err != nil {
			return err
		}
		if _, err := putFrameFn(scratch); err != nil {
			return err
		}
	}

	return nil
}
