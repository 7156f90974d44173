// Package mm implements the per-process memory descriptor: a page
// directory frame paired with a sorted, disjoint list of virtual memory
// areas describing what each region of the address space below the
// kernel/user split is for, and the page-fault policy that resolves a
// fault against that list. This is the Go analogue of mm_struct_t and
// vma_struct_t from the C process core this kernel is based on.
package mm

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/config"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// VMAFlag describes the semantics of a virtual memory area, independent of
// the page table entry flags used to materialize its pages.
type VMAFlag uint32

const (
	// VMARead marks the area as readable.
	VMARead = VMAFlag(1 << 0)
	// VMAWrite marks the area as writable.
	VMAWrite = VMAFlag(1 << 1)
	// VMAExec marks the area as executable.
	VMAExec = VMAFlag(1 << 2)
	// VMAUser marks the area as accessible from ring 3.
	VMAUser = VMAFlag(1 << 3)
	// VMAGrowsDown marks the area as extensible downward on a fault in the
	// page immediately below its current start (used for the user stack).
	VMAGrowsDown = VMAFlag(1 << 4)
	// VMAAnonymous marks the area as backed by zero-filled demand paging
	// rather than a file (used for the heap and stack growth).
	VMAAnonymous = VMAFlag(1 << 5)
)

// VMA is a single contiguous, permission-tagged region of a process's
// address space. Start and End are page-aligned virtual addresses with
// End exclusive.
type VMA struct {
	Start, End uintptr
	Flags      VMAFlag
	Prot       vmm.PageTableEntryFlag
}

func (v *VMA) contains(addr uintptr) bool {
	return addr >= v.Start && addr < v.End
}

// ErrOverlappingVMA is returned by InsertVMA when the requested span
// intersects an existing area.
var ErrOverlappingVMA = &kernel.Error{Module: "mm", Message: "VMA overlaps an existing area", Class: kernel.ClassMappingConflict}

// ErrKernelSpaceVMA is returned by InsertVMA when the requested span
// reaches into or beyond kernel space.
var ErrKernelSpaceVMA = &kernel.Error{Module: "mm", Message: "VMA extends into kernel space", Class: kernel.ClassInvalidArgument}

// ErrInvalidVMASpan is returned when end does not strictly exceed start.
var ErrInvalidVMASpan = &kernel.Error{Module: "mm", Message: "VMA end must be greater than start", Class: kernel.ClassInvalidArgument}

// MM is a process's memory descriptor: the frame backing its page
// directory and every VMA describing a region of its address space,
// kept sorted by Start so FindVMA can run as a linear scan over a small,
// ordered list (a process rarely has more than a handful of areas).
type MM struct {
	PDFrame   uintptr
	vmas      []*VMA
	StartBrk  uintptr
	EndBrk    uintptr
}

// New returns an empty memory descriptor bound to the given page
// directory physical address.
func New(pdPhysAddr uintptr) *MM {
	return &MM{PDFrame: pdPhysAddr}
}

// InsertVMA inserts a new area in sorted order, rejecting spans that
// overlap an existing area or that are not entirely below
// config.KernelVirtBase.
func (m *MM) InsertVMA(start, end uintptr, flags VMAFlag, prot vmm.PageTableEntryFlag) (*VMA, *kernel.Error) {
	if end <= start {
		return nil, ErrInvalidVMASpan
	}
	if end > config.KernelVirtBase {
		return nil, ErrKernelSpaceVMA
	}

	insertAt := len(m.vmas)
	for i, v := range m.vmas {
		if start < v.End && end > v.Start {
			return nil, ErrOverlappingVMA
		}
		if end <= v.Start && insertAt == len(m.vmas) {
			insertAt = i
		}
	}

	vma := &VMA{Start: start, End: end, Flags: flags, Prot: prot}
	m.vmas = append(m.vmas, nil)
	copy(m.vmas[insertAt+1:], m.vmas[insertAt:])
	m.vmas[insertAt] = vma
	return vma, nil
}

// FindVMA returns the area containing addr, or nil.
func (m *MM) FindVMA(addr uintptr) *VMA {
	for _, v := range m.vmas {
		if v.contains(addr) {
			return v
		}
		if addr < v.Start {
			break
		}
	}
	return nil
}

// VMAs returns the sorted list of areas, for callers (destroy, debugging)
// that need to walk every region.
func (m *MM) VMAs() []*VMA {
	return m.vmas
}

