package kernel

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel/config"
	"github.com/Blodus/2025-ikt218-osdev/kernel/cpu"
	"github.com/Blodus/2025-ikt218-osdev/kernel/hal"
	"github.com/Blodus/2025-ikt218-osdev/kernel/hal/multiboot"
	"github.com/Blodus/2025-ikt218-osdev/kernel/irq"
	"github.com/Blodus/2025-ikt218-osdev/kernel/kfmt/early"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/kheap"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/mm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm/buddy"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm/refcount"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// cpuidPSEBit and cpuidExtNXBit are, respectively, bit 3 of leaf 1's EDX
// (page size extension support) and bit 20 of leaf 0x80000001's EDX
// (no-execute support), per the standard CPUID feature layout.
const (
	cpuidPSEBit           = uint32(1) << 3
	cpuidExtNXBit         = uint32(1) << 20
	cpuidExtendedLeafBase = uint32(0x80000000)
)

// detectPSEAndNX queries CPUID for the page-size-extension and no-execute
// capability bits so they can be enabled (cpu.EnablePSEAndNX) before the
// first page directory is built. The non-PAE i386 page table format this
// kernel uses has no per-page no-execute bit (see vmm's arch_386.go), so
// nxAvailable enabling EFER.NXE has no effect on any mapping; it is still
// detected and set so capability handling here matches what a PAE-aware
// paging layer would need, and so per-page enforcement stays exactly where
// it already lives: the VMA's software Exec flag.
func detectPSEAndNX() (pseAvailable, nxAvailable bool) {
	_, _, _, edx := cpu.CPUID(1)
	pseAvailable = edx&cpuidPSEBit != 0

	maxExtLeaf, _, _, _ := cpu.CPUID(cpuidExtendedLeafBase)
	if maxExtLeaf < cpuidExtendedLeafBase+1 {
		return pseAvailable, false
	}

	_, _, _, edx = cpu.CPUID(cpuidExtendedLeafBase + 1)
	nxAvailable = edx&cpuidExtNXBit != 0
	return pseAvailable, nxAvailable
}

var errBadMagic = &Error{Module: "kmain", Message: "bootloader magic mismatch", Class: ClassBadMultiboot}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked by the rt0 assembly after the GDT is
// installed and a minimal g0 struct lets Go code run on the 4K stack the
// assembly allocated.
//
// magic and multibootInfoPtr are the values the bootloader left in EAX/EBX
// at kernel entry; kernelImageEnd is the physical address one past the
// kernel image's last byte, computed by the linker script. All three cross
// the rt0/Go boundary via the package-level variables in boot.go.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(magic uint32, multibootInfoPtr, kernelImageEnd uintptr) {
	hal.InitDebugWriter()
	early.Printf("booting\n")

	if err := multiboot.CheckMagic(magic); err != nil {
		Panic(errBadMagic)
	}
	multiboot.SetInfoPtr(multibootInfoPtr)

	base, size, err := multiboot.FindLargestUsableRegion(uint64(kernelImageEnd), mem.PageOrder(config.MaxOrder))
	if err != nil {
		Panic(err)
	}

	alloc, err := buddy.Init(uintptr(base), mem.Size(size), mem.PageOrder(config.MaxOrder))
	if err != nil {
		Panic(err)
	}
	frames := refcount.New(alloc)
	vmm.SetFrameAllocator(frames.FrameAlloc)

	pseAvailable, nxAvailable := detectPSEAndNX()
	cpu.EnablePSEAndNX(pseAvailable, nxAvailable)

	kernelPD, err := vmm.InitializeDirectory(config.KernelPhysBase, kernelImageEnd, frames.FrameAlloc, frames.PutFrame)
	if err != nil {
		Panic(err)
	}

	irq.Init()

	if err := vmm.Init(); err != nil {
		Panic(err)
	}
	vmm.SetPageFaultPolicy(handlePageFault)

	kheap.Init(config.KheapVirtStart, config.KheapVirtEnd)

	early.Printf("kernel page directory active at phys %x virt %x\n", kernelPD.PhysAddr, kernelPD.VirtAddr)

	early.Printf("memory management online: %d bytes free\n", uint64(alloc.FreeSpace()))

	// No scheduler or GDT/TSS package exists in this core (see DESIGN.md),
	// so there is nothing further to dispatch into. Prevent Kmain from
	// returning.
	for {
	}
}

// handlePageFault bridges vmm's page-granular fault policy to mm's
// VMA-aware fault resolution for whichever process mm.SetCurrent last
// published.
func handlePageFault(page vmm.Page, write, userMode bool) bool {
	m := mm.Current()
	if m == nil {
		return false
	}
	return m.HandleFault(page.Address(), write, userMode, vmm.FrameAllocator())
}
