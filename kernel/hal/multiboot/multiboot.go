// Package multiboot parses the Multiboot2 information block the bootloader
// hands the kernel at entry: the tag stream is walked to find the memory
// map, and the largest usable RAM region above 1 MiB that does not overlap
// the kernel image is selected for seeding the buddy allocator.
package multiboot

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// BootloaderMagic is the value the bootloader must place in the magic
// register for a Multiboot2 boot.
const BootloaderMagic = uint32(0x36D76289)

// lowMemFloor is the physical address below which the memory map is never
// consulted; real-mode/BIOS reserved memory lives below it.
const lowMemFloor = uint64(0x100000)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. According to the spec, each tag starts at a 8-byte aligned
	// address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

var (
	infoData uintptr

	// ErrBadMagic is returned when the value passed to the kernel entry
	// point does not match the expected Multiboot2 magic.
	ErrBadMagic = &kernel.Error{Module: "multiboot", Message: "bootloader magic mismatch", Class: kernel.ClassBadMultiboot}

	// ErrNoMemoryMap is returned when the info block has no MMAP tag.
	ErrNoMemoryMap = &kernel.Error{Module: "multiboot", Message: "missing memory map tag", Class: kernel.ClassBadMultiboot}

	// ErrNoUsableMemory is returned when no candidate region survives
	// trimming and clamping with at least 1 MiB remaining.
	ErrNoUsableMemory = &kernel.Error{Module: "multiboot", Message: "no usable memory region found", Class: kernel.ClassBadMultiboot}
)

// MemRegionVisitor defies a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// CheckMagic verifies that magic matches the value the bootloader must pass
// to the kernel entry point.
func CheckMagic(magic uint32) *kernel.Error {
	if magic != BootloaderMagic {
		return ErrBadMagic
	}
	return nil
}

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry *MemoryMapEntry
	for curPtr != endPtr {
		entry = (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// FindLargestUsableRegion walks the memory map looking for AVAILABLE
// entries at or above 1 MiB, trims any portion overlapping
// [0, kernelImageEnd), and returns the base and size of the largest
// remaining suffix. The result is page-aligned up at the low end and
// clamped to at most 2^maxOrder*mem.PageSize bytes. It fails with
// ErrNoMemoryMap if the MMAP tag is absent and ErrNoUsableMemory if the
// final region is smaller than 1 MiB.
func FindLargestUsableRegion(kernelImageEnd uint64, maxOrder mem.PageOrder) (base, size uint64, err *kernel.Error) {
	_, mmapSize := findTagByType(tagMemoryMap)
	if mmapSize == 0 {
		return 0, 0, ErrNoMemoryMap
	}

	var bestBase, bestSize uint64

	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if entry.Type != MemAvailable || entry.PhysAddress < lowMemFloor {
			return true
		}

		regionStart := entry.PhysAddress
		regionEnd := entry.PhysAddress + entry.Length

		// Trim any overlap with [0, kernelImageEnd).
		if regionStart < kernelImageEnd {
			if regionEnd <= kernelImageEnd {
				// Entirely consumed by the kernel image; skip.
				return true
			}
			regionStart = kernelImageEnd
		}

		regionLen := regionEnd - regionStart
		if regionLen > bestSize {
			bestSize = regionLen
			bestBase = regionStart
		}

		return true
	})

	if bestSize == 0 {
		return 0, 0, ErrNoUsableMemory
	}

	// Page-align the base up, shrinking the size by the same amount.
	alignedBase := (bestBase + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
	bestSize -= alignedBase - bestBase
	bestBase = alignedBase

	// Clamp to at most 2^maxOrder pages.
	maxBytes := uint64(mem.PageSize) << uint(maxOrder)
	if bestSize > maxBytes {
		bestSize = maxBytes
	}

	if bestSize < uint64(mem.Mb) {
		return 0, 0, ErrNoUsableMemory
	}

	return bestBase, bestSize, nil
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagByType will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
