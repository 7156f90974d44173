package vmm

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/config"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

// InitFromKernel sets up pdt as a fresh page directory that shares the
// currently active page directory's kernel-space mappings. It copies every
// PDE at or above config.KernelPDEIndex from the active PD, leaves every
// user-space PDE clear, and installs its own recursive self-mapping in the
// last slot. The caller is expected to invoke this with the kernel page
// directory active, since the source entries are read through the
// recursive mapping of the currently active PD rather than through a
// second temporary mapping (the temporary mapping slot is single-use).
//
// Every present kernel PDE copied this way now has a second page directory
// pointing at its page-table (or, for a PDE mapping a 4 MiB page directly,
// its huge-page) frame, so getFrameFn is called once per copied entry to
// record the new owner.
func (pdt *PageDirectoryTable) InitFromKernel(pdFrame pmm.Frame, allocFn FrameAllocatorFn, getFrameFn func(pmm.Frame) *kernel.Error) *kernel.Error {
	pdt.pdtFrame = pdFrame

	newPdtPage, err := mapTemporaryFn(pdFrame, allocFn)
	if err != nil {
		return err
	}

	mem.Memset(newPdtPage.Address(), 0, mem.PageSize)

	newEntries := (*[mem.PageSize >> mem.PointerShift]pageTableEntry)(unsafe.Pointer(newPdtPage.Address()))

	lastIndex := uintptr((1 << pageLevelBits[0]) - 1)
	for i := uintptr(config.KernelPDEIndex); i < lastIndex; i++ {
		curEntry := (*pageTableEntry)(ptePtrFn(pdtVirtualAddr + (i << mem.PointerShift)))
		newEntries[i] = *curEntry

		if curEntry.HasFlags(FlagPresent) {
			if err := getFrameFn(curEntry.Frame()); err != nil {
				unmapFn(newPdtPage)
				return err
			}
		}
	}

	lastEntry := &newEntries[lastIndex]
	*lastEntry = 0
	lastEntry.SetFlags(FlagPresent | FlagRW)
	lastEntry.SetFrame(pdFrame)

	unmapFn(newPdtPage)

	return nil
}

// FreeUserSpace releases every user-space mapping rooted at pdFrame, which
// need not be the currently active page directory. For every present PDE
// below config.KernelPDEIndex it hands each mapped frame to putFrameFn,
// then the page table's own frame, then clears the PDE; a PDE that maps a
// 4 MiB page directly (FlagHugePage) instead releases its single large
// frame. The caller must ensure pdFrame is not the active page directory
// and that no other CPU can reference it concurrently.
func FreeUserSpace(pdFrame pmm.Frame, allocFn FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
	pdPage, err := mapTemporaryFn(pdFrame, allocFn)
	if err != nil {
		return err
	}
	pdEntries := *(*[mem.PageSize >> mem.PointerShift]pageTableEntry)(unsafe.Pointer(pdPage.Address()))
	unmapFn(pdPage)

	for i := uintptr(0); i < uintptr(config.KernelPDEIndex); i++ {
		pde := pdEntries[i]
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		frame := pde.Frame()
		if pde.HasFlags(FlagHugePage) {
			if _, err := putFrameFn(frame); err != nil {
				return err
			}
			continue
		}

		ptPage, err := mapTemporaryFn(frame, allocFn)
		if err != nil {
			return err
		}
		ptEntries := *(*[mem.PageSize >> mem.PointerShift]pageTableEntry)(unsafe.Pointer(ptPage.Address()))
		unmapFn(ptPage)

		for _, pte := range ptEntries {
			if !pte.HasFlags(FlagPresent) {
				continue
			}
			if _, err := putFrameFn(pte.Frame()); err != nil {
				return err
			}
		}

		if _, err := putFrameFn(frame); err != nil {
			return err
		}
	}

	pdPage, err = mapTemporaryFn(pdFrame, allocFn)
	if err != nil {
		return err
	}
	pdTable := (*[mem.PageSize >> mem.PointerShift]pageTableEntry)(unsafe.Pointer(pdPage.Address()))
	for i := uintptr(0); i < uintptr(config.KernelPDEIndex); i++ {
		pdTable[i] = 0
	}
	unmapFn(pdPage)

	return nil
}
