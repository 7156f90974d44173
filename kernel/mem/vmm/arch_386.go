//go:build 386

package vmm

import "github.com/Blodus/2025-ikt218-osdev/kernel/config"

// pageLevels is the number of levels in the non-PAE i386 paging scheme:
// a page directory pointing at page tables pointing at 4 KiB pages.
const pageLevels = 2

// pageLevelShifts[i] is the bit offset of the index used at paging level
// i within a virtual address.
var pageLevelShifts = [pageLevels]uint8{22, 12}

// pageLevelBits[i] is the number of bits used for the index at paging
// level i; both the page directory and a page table hold 1024 entries.
var pageLevelBits = [pageLevels]uint8{10, 10}

// pdtVirtualAddr is the virtual address at which the active page
// directory is visible, courtesy of its recursive self-mapping entry.
const pdtVirtualAddr = config.RecursivePDVaddr

// tempMappingAddr is the virtual page vmm reserves for establishing
// short-lived mappings of arbitrary physical frames.
const tempMappingAddr = config.PagingTempVaddr

// ptePhysPageMask extracts the physical frame address from a page table
// entry, masking off the low 12 flag bits.
const ptePhysPageMask = uintptr(0xFFFFF000)

const (
	// FlagPresent indicates that a page table entry points to a mapped page.
	FlagPresent = PageTableEntryFlag(1 << 0)

	// FlagRW marks a page as writable; without it the page is read-only.
	FlagRW = PageTableEntryFlag(1 << 1)

	// FlagUser allows ring-3 code to access the page; without it only
	// ring-0 code can.
	FlagUser = PageTableEntryFlag(1 << 2)

	// FlagPWT selects write-through caching for the page.
	FlagPWT = PageTableEntryFlag(1 << 3)

	// FlagPCD disables caching for the page.
	FlagPCD = PageTableEntryFlag(1 << 4)

	// FlagAccessed is set by the CPU the first time the page is accessed.
	FlagAccessed = PageTableEntryFlag(1 << 5)

	// FlagDirty is set by the CPU the first time the page is written to.
	FlagDirty = PageTableEntryFlag(1 << 6)

	// FlagHugePage marks a page directory entry as pointing directly at a
	// 4 MiB page rather than at a page table (requires PSE).
	FlagHugePage = PageTableEntryFlag(1 << 7)

	// FlagGlobal prevents the TLB entry for this page from being flushed
	// on a CR3 reload (requires PGE).
	FlagGlobal = PageTableEntryFlag(1 << 8)

	// Non-PAE i386 page table entries are only 32 bits wide and have no
	// no-execute bit (that requires PAE's 64-bit PTE format), so unlike
	// the 4-level scheme this was adapted from, there is no FlagNoExecute
	// here.
)
