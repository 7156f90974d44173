// Package buddy implements a power-of-two physical frame allocator. Free
// blocks are tracked with a doubly linked free list per order, linked
// through a side table rather than through the frames themselves so the
// allocator never needs to dereference an unmapped physical address.
//
// The naming (Init, Alloc, FreeSpace) mirrors the buddy_init/buddy_alloc/
// buddy_free_space calling convention of a conventional C buddy allocator;
// Free additionally takes the order being released since this allocator,
// unlike a size-based one, hands out and reclaims frames by order.
package buddy

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/kfmt/early"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

// ErrOutOfMemory is returned by Alloc when no free block of the requested
// (or a higher, splittable) order remains.
var ErrOutOfMemory = &kernel.Error{Module: "buddy", Message: "no free block of requested order", Class: kernel.ClassResourceExhausted}

// ErrInvalidRegion is returned by Init when the supplied region cannot hold
// even a single order-0 frame.
var ErrInvalidRegion = &kernel.Error{Module: "buddy", Message: "region too small for a single frame", Class: kernel.ClassInvalidArgument}

const freeListEnd = int32(-1)

// Allocator manages the free frames of a single contiguous physical region
// using the classic buddy algorithm: an allocation of order o is served
// from the smallest available free block of order >= o, splitting it down
// order by order; a free of order o walks upward, merging with its buddy
// for as long as the buddy is itself free at the same order.
//
// Allocator is not safe for concurrent use; callers that allocate from
// multiple execution contexts must provide their own serialization.
type Allocator struct {
	base        pmm.Frame
	totalFrames uint32
	maxOrder    mem.PageOrder

	// head[o] is the block index (relative to base) of the first free
	// block of order o, or freeListEnd if none.
	head []int32
	// prev/next link the free list for the order recorded in blockOrder
	// at that index; only meaningful for indices that are free-list heads
	// or members.
	prev, next []int32
	// blockOrder[i] records the order of the free block starting at index
	// i, or -1 if index i is not the start of a free block (it is either
	// allocated or the interior of a larger free block).
	blockOrder []int8

	freeCount []uint32
}

// Init prepares an allocator over the physical region [base, base+size),
// rounding size down to the largest power-of-two number of frames bounded
// by maxOrder. Any remainder below that power of two is not tracked and is
// effectively leaked for the lifetime of the allocator; this matches the
// common simplification of seeding a buddy allocator from a single
// already order-aligned region rather than a set of arbitrary-length ones.
func Init(base uintptr, size mem.Size, maxOrder mem.PageOrder) (*Allocator, *kernel.Error) {
	totalFrames := uint32(size >> mem.PageShift)
	if totalFrames == 0 {
		return nil, ErrInvalidRegion
	}

	// Clamp to the largest power of two <= totalFrames and <= 1<<maxOrder.
	order := mem.PageOrder(0)
	for order < maxOrder && (uint32(1)<<(order+1)) <= totalFrames {
		order++
	}
	trackedFrames := uint32(1) << order

	a := &Allocator{
		base:        pmm.FrameForAddress(base),
		totalFrames: trackedFrames,
		maxOrder:    order,
		head:        make([]int32, order+1),
		prev:        make([]int32, trackedFrames),
		next:        make([]int32, trackedFrames),
		blockOrder:  make([]int8, trackedFrames),
		freeCount:   make([]uint32, order+1),
	}

	for i := range a.head {
		a.head[i] = freeListEnd
	}
	for i := range a.blockOrder {
		a.blockOrder[i] = -1
	}

	a.pushFree(0, order)

	early.Printf("[buddy] tracking %d frames (order %d) starting at frame %d\n", trackedFrames, uint8(order), uintptr(a.base))
	return a, nil
}

// Base returns the frame number of the first frame tracked by this
// allocator.
func (a *Allocator) Base() pmm.Frame {
	return a.base
}

// TotalFrames returns the number of frames tracked by this allocator (the
// power-of-two size chosen by Init).
func (a *Allocator) TotalFrames() uint32 {
	return a.totalFrames
}

// Alloc reserves a single free block of the given order, splitting a
// larger block if needed, and returns the Frame at its base.
func (a *Allocator) Alloc(order mem.PageOrder) (pmm.Frame, *kernel.Error) {
	if order > a.maxOrder {
		return pmm.InvalidFrame, ErrOutOfMemory
	}

	o := order
	for o <= a.maxOrder && a.head[o] == freeListEnd {
		o++
	}
	if o > a.maxOrder {
		return pmm.InvalidFrame, ErrOutOfMemory
	}

	idx := a.popFree(o)

	// Split the block down to the requested order, releasing the upper
	// half of each split as a free block at the smaller order.
	for ; o > order; o-- {
		buddyIdx := idx + (1 << (o - 1))
		a.pushFree(buddyIdx, o-1)
	}

	a.blockOrder[idx] = -1
	return a.base + pmm.Frame(idx), nil
}

// Free releases a block of the given order previously returned by Alloc,
// merging it with its buddy for as long as the buddy is also free.
func (a *Allocator) Free(f pmm.Frame, order mem.PageOrder) {
	idx := uint32(f - a.base)

	for order < a.maxOrder {
		buddyIdx := idx ^ (uint32(1) << order)
		if buddyIdx >= a.totalFrames || a.blockOrder[buddyIdx] != int8(order) {
			break
		}
		a.removeFree(buddyIdx, order)
		if buddyIdx < idx {
			idx = buddyIdx
		}
		order++
	}

	a.pushFree(idx, order)
}

// FreeSpace returns the total number of bytes currently available across
// every free-list order.
func (a *Allocator) FreeSpace() mem.Size {
	var total mem.Size
	for order, count := range a.freeCount {
		total += mem.Size(count) * (mem.PageSize << uint(order))
	}
	return total
}

// pushFree inserts block idx at the head of the free list for order.
func (a *Allocator) pushFree(idx uint32, order mem.PageOrder) {
	head := a.head[order]
	a.prev[idx] = freeListEnd
	a.next[idx] = head
	if head != freeListEnd {
		a.prev[head] = int32(idx)
	}
	a.head[order] = int32(idx)
	a.blockOrder[idx] = int8(order)
	a.freeCount[order]++
}

// popFree removes and returns the head of the free list for order. Callers
// must only invoke this when the list is non-empty.
func (a *Allocator) popFree(order mem.PageOrder) uint32 {
	idx := uint32(a.head[order])
	a.removeFree(idx, order)
	return idx
}

// removeFree unlinks block idx from the free list for order.
func (a *Allocator) removeFree(idx uint32, order mem.PageOrder) {
	p, n := a.prev[idx], a.next[idx]
	if p != freeListEnd {
		a.next[p] = n
	} else {
		a.head[order] = n
	}
	if n != freeListEnd {
		a.prev[n] = p
	}
	a.blockOrder[idx] = -1
	a.freeCount[order]--
}
