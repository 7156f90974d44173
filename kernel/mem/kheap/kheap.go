// Package kheap implements the kernel's general-purpose dynamic allocator:
// a single growable arena of kernel virtual address space, backed on
// demand by physical frames, carved up by a first-fit free list. It is
// the Go analogue of kmalloc/kmalloc_init in the process core this
// kernel is based on, used wherever kernel code needs a heap-allocated
// buffer before (and instead of) any user-process memory exists.
package kheap

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// header is the block descriptor kept at the start of every block the
// arena hands out, both free and allocated. The payload returned to a
// caller begins immediately after it.
type header struct {
	size uintptr
	free bool
	next *header
}

const headerSize = unsafe.Sizeof(header{})

// minAlignment is the alignment granularity for payload sizes; it keeps
// every header naturally aligned regardless of what precedes it.
const minAlignment = unsafe.Alignof(uintptr(0))

// ErrOutOfMemory is returned when the arena's reserved virtual range is
// exhausted and no free block can satisfy the request.
var ErrOutOfMemory = &kernel.Error{Module: "kheap", Message: "kernel heap arena exhausted", Class: kernel.ClassResourceExhausted}

// ErrInvalidFree is returned when Free is called with an address that
// was not returned by a prior Alloc.
var ErrInvalidFree = &kernel.Error{Module: "kheap", Message: "address is not a live heap allocation", Class: kernel.ClassInvalidArgument}

var (
	arenaStart uintptr
	arenaEnd   uintptr
	// backedTo is the page-aligned watermark up to which the arena has
	// physical frames mapped in.
	backedTo uintptr
	// nextFree is the tight (unaligned) byte address at which the next
	// new block is carved, independent of the page granularity backedTo
	// advances in.
	nextFree uintptr
	head     *header
)

// mapFn is used by tests to override the call to vmm.Map, which will
// fault if invoked against a fake arena outside a real kernel.
var mapFn = vmm.Map

// Init resets the arena to the virtual range [start, end), with nothing
// yet backed by physical frames and no blocks allocated. Called once at
// boot, after paging is live and before the first caller needs kmalloc.
func Init(start, end uintptr) {
	arenaStart = start
	arenaEnd = end
	backedTo = start
	nextFree = start
	head = nil
}

// Alloc returns the address of a block of at least size bytes, growing
// the backing arena via allocFn/mapFn if no free block is large enough.
// The returned memory is not zeroed; callers that need zero-filled
// storage zero it themselves.
func Alloc(size uintptr, allocFn vmm.FrameAllocatorFn) (uintptr, *kernel.Error) {
	if size == 0 {
		size = minAlignment
	}
	size = alignUp(size, minAlignment)

	if blk := findFit(size); blk != nil {
		split(blk, size)
		blk.free = false
		return payload(blk), nil
	}

	blk, err := grow(size, allocFn)
	if err != nil {
		return 0, err
	}
	split(blk, size)
	blk.free = false
	return payload(blk), nil
}

// Free releases the block at addr (an address previously returned by
// Alloc) and merges it with its immediate successor if that block is
// also free.
func Free(addr uintptr) *kernel.Error {
	blk := blockFromPayload(addr)
	if !isLiveBlock(blk) {
		return ErrInvalidFree
	}
	blk.free = true
	mergeWithNext(blk)
	return nil
}

func payload(h *header) uintptr {
	return uintptr(unsafe.Pointer(h)) + headerSize
}

func blockFromPayload(addr uintptr) *header {
	return (*header)(unsafe.Pointer(addr - headerSize))
}

func isLiveBlock(h *header) bool {
	for b := head; b != nil; b = b.next {
		if b == h {
			return !b.free
		}
	}
	return false
}

func findFit(size uintptr) *header {
	for b := head; b != nil; b = b.next {
		if b.free && b.size >= size {
			return b
		}
	}
	return nil
}

// split carves a trailing free block out of blk if the leftover space is
// large enough to host another header plus a minimally useful payload.
func split(blk *header, size uintptr) {
	if blk.size < size+headerSize+minAlignment {
		return
	}
	remaining := blk.size - size - headerSize
	newAddr := uintptr(unsafe.Pointer(blk)) + headerSize + size
	newBlk := (*header)(unsafe.Pointer(newAddr))
	newBlk.size = remaining
	newBlk.free = true
	newBlk.next = blk.next

	blk.size = size
	blk.next = newBlk
}

// mergeWithNext folds blk's immediate successor into it if that
// successor is also free, the only coalescing this allocator performs
// (no compaction, no generational behavior — see kheap package doc).
func mergeWithNext(blk *header) {
	next := blk.next
	if next == nil || !next.free {
		return
	}
	blk.size += headerSize + next.size
	blk.next = next.next
}

// grow appends a new block immediately after the last one, mapping
// however many additional pages are needed to back it.
func grow(size uintptr, allocFn vmm.FrameAllocatorFn) (*header, *kernel.Error) {
	blkAddr := nextFree
	needed := headerSize + size
	blockEnd := blkAddr + needed

	if blockEnd > arenaEnd {
		return nil, ErrOutOfMemory
	}
	if blockEnd > backedTo {
		if err := backMore(blockEnd, allocFn); err != nil {
			return nil, err
		}
	}
	nextFree = blockEnd

	blk := (*header)(unsafe.Pointer(blkAddr))
	blk.size = size
	blk.free = false
	blk.next = nil

	if head == nil {
		head = blk
	} else {
		tail := head
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = blk
	}
	return blk, nil
}

// backMore maps whatever additional pages are needed so the arena is
// backed up through the given address.
func backMore(through uintptr, allocFn vmm.FrameAllocatorFn) *kernel.Error {
	for page := vmm.PageFromAddress(backedTo); page.Address() < through; page++ {
		frame, err := allocFn()
		if err != nil {
			return err
		}
		if err := mapFn(page, frame, vmm.FlagPresent|vmm.FlagRW, allocFn); err != nil {
			return err
		}
	}
	backedTo = alignUp(through, uintptr(mem.PageSize))
	return nil
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
