// Package refcount layers per-frame reference counting on top of a buddy
// allocator so that a single-order frame shared by more than one address
// space (a forked page table, a clone of the kernel's identity-mapped
// region) is only returned to the allocator once every owner has dropped
// its mapping. The counting scheme follows the Refcnt/Refup/Refdown shape
// used for tracking shared physical pages in other kernels, narrowed here
// to the single frame order this kernel shares (order 0).
package refcount

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm/buddy"
)

// ErrNotTracked is returned by PutFrame for a frame inside the manager's
// tracked region whose reference count is already zero (a double free).
var ErrNotTracked = &kernel.Error{Module: "refcount", Message: "frame not tracked by this manager", Class: kernel.ClassInvalidArgument}

// Manager hands out individually refcounted frames backed by a buddy
// allocator. A freshly allocated frame starts with a refcount of one; each
// additional owner calls GetFrame to bump it, and PutFrame to drop it,
// with the underlying frame only returned to the allocator once the count
// reaches zero.
type Manager struct {
	alloc  *buddy.Allocator
	base   pmm.Frame
	counts []int32
}

// New wraps alloc with reference counting for every frame it tracks.
func New(alloc *buddy.Allocator) *Manager {
	return &Manager{
		alloc:  alloc,
		base:   alloc.Base(),
		counts: make([]int32, alloc.TotalFrames()),
	}
}

// FrameAlloc reserves a single fresh frame with an initial refcount of one.
func (m *Manager) FrameAlloc() (pmm.Frame, *kernel.Error) {
	f, err := m.alloc.Alloc(0)
	if err != nil {
		return pmm.InvalidFrame, err
	}
	m.counts[f-m.base] = 1
	return f, nil
}

// GetFrame increments the reference count of an already allocated frame,
// recording a new owner of the mapping. A frame outside the tracked region
// is count-infinity: it is never freed and never tracked, so bumping its
// count is a silent no-op rather than an error.
func (m *Manager) GetFrame(f pmm.Frame) *kernel.Error {
	idx, ok := m.index(f)
	if !ok {
		return nil
	}
	m.counts[idx]++
	return nil
}

// PutFrame drops one reference to f, returning the frame to the underlying
// allocator once the last owner has released it. It returns true if the
// frame was actually freed. As with GetFrame, a frame outside the tracked
// region is count-infinity and PutFrame is a silent no-op for it;
// ErrNotTracked is reserved for an in-range frame whose count has already
// reached zero (a double free).
func (m *Manager) PutFrame(f pmm.Frame) (bool, *kernel.Error) {
	idx, ok := m.index(f)
	if !ok {
		return false, nil
	}
	if m.counts[idx] == 0 {
		return false, ErrNotTracked
	}
	m.counts[idx]--
	if m.counts[idx] == 0 {
		m.alloc.Free(f, 0)
		return true, nil
	}
	return false, nil
}

// Refcount returns the current reference count of f, or 0 if f is not
// currently allocated.
func (m *Manager) Refcount(f pmm.Frame) int32 {
	idx, ok := m.index(f)
	if !ok {
		return 0
	}
	return m.counts[idx]
}

// index reports the counts slot for f, and whether f falls inside the
// tracked region [base, base+len(counts)) at all.
func (m *Manager) index(f pmm.Frame) (uint32, bool) {
	if f < m.base || uint32(f-m.base) >= uint32(len(m.counts)) {
		return 0, false
	}
	return uint32(f - m.base), true
}
