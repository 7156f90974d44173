package vmm

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/cpu"
	"github.com/Blodus/2025-ikt218-osdev/kernel/irq"
	"github.com/Blodus/2025-ikt218-osdev/kernel/kfmt/early"
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator. It backs MapTemporary/Map calls that need a fresh
	// physical frame for an intermediate page table.
	frameAllocator FrameAllocatorFn

	// faultPolicy is registered by the VMA-aware layer above vmm (see
	// package mm) and decides whether a page fault can be repaired by
	// installing a new mapping, or must be reported as fatal.
	faultPolicy PageFaultPolicy

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	panicFn                   = kernel.Panic
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2
)

// PageFaultPolicy is invoked by the page fault handler for every page
// fault, whatever the CPU mode or cause. It receives the faulting page and a decoded description of the access,
// and returns true if it repaired the mapping (the faulting instruction
// should be retried) or false if the fault must be treated as fatal.
type PageFaultPolicy func(page Page, write, userMode bool) bool

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// FrameAllocator returns the allocator function registered via
// SetFrameAllocator, for callers (such as package mm) that need to
// allocate a frame outside of a Map call.
func FrameAllocator() FrameAllocatorFn {
	return frameAllocator
}

// SetPageFaultPolicy registers the handler consulted for every page fault
// against a missing or permission-mismatched mapping. Passing nil makes
// every such fault fatal.
func SetPageFaultPolicy(policy PageFaultPolicy) {
	faultPolicy = policy
}

// pageFaultError decodes the error code the CPU pushes for a page fault
// (vector 14): bit 0 set means the fault was a protection violation rather
// than a not-present page, bit 1 set means the access was a write, and
// bit 2 set means the CPU was executing in user mode.
type pageFaultError uint32

func (e pageFaultError) protectionViolation() bool { return e&1 != 0 }
func (e pageFaultError) write() bool               { return e&2 != 0 }
func (e pageFaultError) userMode() bool            { return e&4 != 0 }
func (e pageFaultError) instructionFetch() bool    { return e&16 != 0 }

func pageFaultHandler(errorCode uint32, frame *irq.Frame, regs *irq.Regs) {
	var (
		faultErr     = pageFaultError(errorCode)
		faultAddress = readCR2Fn()
		faultPage    = PageFromAddress(faultAddress)
	)

	if faultPolicy != nil && faultPolicy(faultPage, faultErr.write(), faultErr.userMode()) {
		return
	}

	nonRecoverablePageFault(faultAddress, errorCode, frame, regs)
}

func nonRecoverablePageFault(faultAddress uintptr, errorCode uint32, frame *irq.Frame, regs *irq.Regs) {
	faultErr := pageFaultError(errorCode)

	early.Printf("\nPage fault while accessing address: 0x%8x\nReason: ", faultAddress)
	switch {
	case !faultErr.protectionViolation() && !faultErr.write():
		early.Printf("read from non-present page")
	case faultErr.protectionViolation() && !faultErr.write():
		early.Printf("page protection violation (read)")
	case !faultErr.protectionViolation() && faultErr.write():
		early.Printf("write to non-present page")
	case faultErr.protectionViolation() && faultErr.write():
		early.Printf("page protection violation (write)")
	}
	if faultErr.userMode() {
		early.Printf(" (user-mode)")
	}
	if faultErr.instructionFetch() {
		early.Printf(" (instruction fetch)")
	}

	early.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	panicFn(&kernel.Error{Module: "vmm", Message: "unrecoverable page fault", Class: kernel.ClassNotMapped})
}

func generalProtectionFaultHandler(_ uint32, frame *irq.Frame, regs *irq.Regs) {
	early.Printf("\nGeneral protection fault\n")
	early.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	panicFn(&kernel.Error{Module: "vmm", Message: "general protection fault", Class: kernel.ClassFatal})
}

// Init installs the page fault and general protection fault exception
// handlers. It must be called once paging is active.
func Init() *kernel.Error {
	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	return nil
}
