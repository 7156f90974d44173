package kheap

import (
	"testing"
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// newTestArena backs Init's virtual range with a real Go-allocated
// buffer so header read/writes touch addressable memory, and stubs
// mapFn so growing the arena doesn't attempt a real page-table walk.
func newTestArena(t *testing.T, size int) {
	t.Helper()
	buf := make([]byte, size)
	base := uintptr(unsafe.Pointer(&buf[0]))
	Init(base, base+uintptr(size))

	origMap := mapFn
	mapFn = func(vmm.Page, pmm.Frame, vmm.PageTableEntryFlag, vmm.FrameAllocatorFn) *kernel.Error {
		return nil
	}
	t.Cleanup(func() { mapFn = origMap })
}

func stubAllocFn() vmm.FrameAllocatorFn {
	next := pmm.Frame(1)
	return func() (pmm.Frame, *kernel.Error) {
		f := next
		next++
		return f, nil
	}
}

func TestAllocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	newTestArena(t, 64*1024)

	a, err := Alloc(32, stubAllocFn())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Alloc(64, stubAllocFn())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct allocations")
	}
	if b >= a && b < a+32+headerSize {
		t.Fatal("second allocation overlaps the first")
	}
}

func TestFreeThenAllocReusesBlock(t *testing.T) {
	newTestArena(t, 64*1024)

	a, err := Alloc(128, stubAllocFn())
	if err != nil {
		t.Fatal(err)
	}
	if err := Free(a); err != nil {
		t.Fatal(err)
	}
	b, err := Alloc(64, stubAllocFn())
	if err != nil {
		t.Fatal(err)
	}
	if b != a {
		t.Fatalf("expected the freed block to be reused at %x; got a new block at %x", a, b)
	}
}

func TestFreeMergesAdjacentFreeBlocks(t *testing.T) {
	newTestArena(t, 64*1024)

	a, _ := Alloc(64, stubAllocFn())
	b, _ := Alloc(64, stubAllocFn())

	if err := Free(b); err != nil {
		t.Fatal(err)
	}
	if err := Free(a); err != nil {
		t.Fatal(err)
	}

	// A single allocation spanning both merged blocks' combined payload
	// plus the reclaimed header should now fit in one block.
	c, err := Alloc(64+headerSize+64, stubAllocFn())
	if err != nil {
		t.Fatalf("expected merged free blocks to satisfy a larger allocation: %v", err)
	}
	if c != a {
		t.Fatalf("expected the merged block to start at %x; got %x", a, c)
	}
}

func TestFreeRejectsUnknownAddress(t *testing.T) {
	newTestArena(t, 64*1024)

	if err := Free(0x1234); err != ErrInvalidFree {
		t.Fatalf("expected ErrInvalidFree; got %v", err)
	}
}

func TestFreeRejectsDoubleFree(t *testing.T) {
	newTestArena(t, 64*1024)

	a, _ := Alloc(32, stubAllocFn())
	if err := Free(a); err != nil {
		t.Fatal(err)
	}
	if err := Free(a); err != ErrInvalidFree {
		t.Fatalf("expected double free to be rejected; got %v", err)
	}
}

func TestAllocFailsWhenArenaExhausted(t *testing.T) {
	newTestArena(t, 256)

	if _, err := Alloc(4096, stubAllocFn()); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
}

func TestAllocPropagatesFrameAllocatorError(t *testing.T) {
	newTestArena(t, 64*1024)

	wantErr := &kernel.Error{Module: "pmm", Message: "no frames"}
	failingAlloc := func() (pmm.Frame, *kernel.Error) { return 0, wantErr }

	if _, err := Alloc(32, failingAlloc); err != wantErr {
		t.Fatalf("expected propagated allocator error; got %v", err)
	}
}
