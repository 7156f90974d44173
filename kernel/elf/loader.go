package elf

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/config"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/mm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// FileReader abstracts the filesystem collaborator this loader depends
// on: reading path into a kernel buffer. The FAT layer satisfies this in
// the full kernel; tests supply an in-memory stub.
type FileReader interface {
	ReadFile(path string) ([]byte, *kernel.Error)
}

// mapFn and mapTemporaryFn/unmapFn are used by tests to override the
// calls into vmm, which assume a real active page directory outside a
// test process.
var (
	mapFn          = vmm.Map
	mapTemporaryFn = vmm.MapTemporary
	unmapFn        = vmm.Unmap
)

// Result reports what the loader discovered: the process entry point and
// the page-aligned address one past the last byte of loaded data, which
// becomes the initial heap VMA's start.
type Result struct {
	Entry      uintptr
	InitialBrk uintptr
}

// Load reads path via reader, validates it as a 32-bit i386 ET_EXEC ELF
// binary, and for every PT_LOAD segment inserts a VMA into target and
// populates its pages with file data and zero-filled BSS.
//
// Load assumes target's page directory is the currently active one, the
// same assumption vmm.Map makes; the process builder is responsible for
// having activated it first.
func Load(target *mm.MM, reader FileReader, path string, allocFn vmm.FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) (Result, *kernel.Error) {
	buf, err := reader.ReadFile(path)
	if err != nil {
		return Result{}, err
	}

	hdr, err := parseHeader(buf, config.KernelVirtBase)
	if err != nil {
		return Result{}, err
	}

	var highestAddr uintptr
	for i := uint16(0); i < hdr.PhNum; i++ {
		ph := parseProgramHeader(buf, hdr.PhOff+uint32(i)*uint32(hdr.PhEntSz))
		if ph.Type != ptLoad || ph.MemSz == 0 {
			continue
		}
		if err := validateSegment(ph, len(buf), config.KernelVirtBase); err != nil {
			return Result{}, err
		}

		if err := loadSegment(target, buf, ph, allocFn, putFrameFn); err != nil {
			return Result{}, err
		}

		segEnd := uintptr(ph.VAddr) + uintptr(ph.MemSz)
		if segEnd > highestAddr {
			highestAddr = segEnd
		}
	}

	return Result{
		Entry:      uintptr(hdr.Entry),
		InitialBrk: pageAlignUp(highestAddr, uintptr(mem.PageSize)),
	}, nil
}

func loadSegment(target *mm.MM, buf []byte, ph ProgramHeader, allocFn vmm.FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
	pageSize := uintptr(mem.PageSize)
	vmStart := pageAlignDown(uintptr(ph.VAddr), pageSize)
	vmEnd := pageAlignUp(uintptr(ph.VAddr)+uintptr(ph.MemSz), pageSize)
	if vmEnd <= vmStart {
		return nil
	}

	vmaFlags := mm.VMAUser | mm.VMAAnonymous
	prot := vmm.FlagPresent | vmm.FlagUser
	if ph.Flags&pfR != 0 {
		vmaFlags |= mm.VMARead
	}
	if ph.Flags&pfW != 0 {
		vmaFlags |= mm.VMAWrite
		prot |= vmm.FlagRW
	}
	if ph.Flags&pfX != 0 {
		vmaFlags |= mm.VMAExec
	}
	// Non-PAE i386 page table entries carry no no-execute bit (see
	// kernel/mem/vmm's arch_386.go); a non-executable segment is simply
	// not marked exec in the VMA, with no enforcing page-protection bit
	// available to set.

	if _, err := target.InsertVMA(vmStart, vmEnd, vmaFlags, prot); err != nil {
		return err
	}

	fileStart := uintptr(ph.VAddr)
	fileEnd := fileStart + uintptr(ph.FileSz)
	memEnd := fileStart + uintptr(ph.MemSz)

	for pageV := vmStart; pageV < vmEnd; pageV += pageSize {
		frame, err := allocFn()
		if err != nil {
			return err
		}

		pageEnd := pageV + pageSize
		copyStart := maxU(pageV, fileStart)
		copyEnd := minU(pageEnd, fileEnd)
		var copySize uintptr
		var fileOffset uintptr
		var copyOffset uintptr
		if copyEnd > copyStart {
			copySize = copyEnd - copyStart
			fileOffset = uintptr(ph.Offset) + (copyStart - fileStart)
			copyOffset = copyStart - pageV
		}

		zeroStart := maxU(pageV, fileEnd)
		zeroEnd := minU(pageEnd, memEnd)
		var zeroSize, zeroOffset uintptr
		if zeroEnd > zeroStart {
			zeroSize = zeroEnd - zeroStart
			zeroOffset = zeroStart - pageV
		}

		if err := populateFrame(frame, buf, fileOffset, copyOffset, copySize, zeroOffset, zeroSize, allocFn); err != nil {
			putFrameFn(frame)
			return err
		}

		if err := mapFn(vmm.PageFromAddress(pageV), frame, prot, allocFn); err != nil {
			putFrameFn(frame)
			return err
		}
	}

	return nil
}

// populateFrame temporarily maps frame, copies copySize bytes from
// buf[fileOffset:] into it at copyOffset, zero-fills zeroSize bytes
// starting at zeroOffset (BSS), and unmaps it again.
func populateFrame(frame pmm.Frame, buf []byte, fileOffset, copyOffset, copySize, zeroOffset, zeroSize uintptr, allocFn vmm.FrameAllocatorFn) *kernel.Error {
	page, err := mapTemporaryFn(frame, allocFn)
	if err != nil {
		return err
	}
	dst := page.Address()

	if copySize > 0 {
		dstSlice := (*[mem.PageSize]byte)(unsafe.Pointer(dst + copyOffset))[:copySize:copySize]
		copy(dstSlice, buf[fileOffset:fileOffset+copySize])
	}
	if zeroSize > 0 {
		mem.Memset(dst+zeroOffset, 0, mem.Size(zeroSize))
	}

	unmapFn(page)
	return nil
}
