package vmm

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
)

var (
	// ptePtrFn returns a pointer to the supplied entry address. It is used
	// by tests to override the generated page table entry pointers so
	// walk() can be exercised without a real recursive mapping. When
	// compiling the kernel this function is automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address, calling
// walkFn with the page table entry for each of this kernel's 2 paging
// levels (the page directory, then the page table it points to). The
// addresses of each level are derived using the recursive self-mapping
// installed by PageDirectoryTable.Init: accessing pdtVirtualAddr reads the
// page directory itself, and shifting a directory entry's own address
// left by a further level's worth of index bits yields the virtual
// address at which the table it points to becomes visible.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
		ok                               bool
	)

	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)

		// Shifting the entry index left by mem.PointerShift bits gives
		// its byte offset, and hence the entry's address, within this
		// level's table.
		entryAddr = tableAddr + (entryIndex << mem.PointerShift)

		if ok = walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))); !ok {
			return
		}

		// Shift left by the number of index bits at this level to turn
		// the entry's own virtual address into the virtual address of the
		// table it points to, thanks to the recursive mapping.
		entryAddr <<= pageLevelBits[level]
	}
}
