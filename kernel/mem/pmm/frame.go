// Package pmm contains the physical memory manager: a buddy allocator that
// hands out power-of-two runs of physical frames, and a reference-count
// layer on top of it so frames shared between address spaces are only
// freed once every owner has dropped its mapping.
package pmm

import (
	"math"

	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
)

// Frame describes a physical memory frame by its frame number (physical
// address >> mem.PageShift). Unlike a 64-bit kernel, an i386 physical
// address always fits in a uintptr, so the frame number does too; the
// order of a buddy-allocated run is tracked by the allocator's own
// free-list bucket rather than being stashed in spare frame-number bits.
type Frame uintptr

// InvalidFrame is returned by allocators when they fail to reserve the
// requested frame.
const InvalidFrame = Frame(math.MaxUint32)

// Valid returns true if this is not the sentinel InvalidFrame value.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address for this frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameForAddress returns the Frame containing the given physical address.
func FrameForAddress(addr uintptr) Frame {
	return Frame(addr >> mem.PageShift)
}
