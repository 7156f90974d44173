//go:build 386

package irq

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/kfmt/early"
)

// idtEntry describes a single IDT gate pointing at a 32-bit interrupt
// handler in the kernel code segment.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	zero       uint8
	typeAttr   uint8
	offsetHigh uint16
}

// idtPointer is the operand lidt expects: a 16-bit limit followed by a
// 32-bit linear base address.
type idtPointer struct {
	limit uint16
	base  uint32
}

const (
	gateInterrupt32 = 0x8E // present, ring 0, 32-bit interrupt gate
	kernelCodeSel   = 0x08
)

var idt [256]idtEntry

// stubAddr is populated at init time with the entry address of each
// assembled exception stub, indexed by vector number; a zero entry means
// no stub was assembled for that vector.
var stubAddr [numExceptions]uintptr

// funcPC returns the entry address of a top-level, non-closure function
// value. The trick of reading the first word behind the func value's
// pointer avoids pulling in the reflect package, which kfmt/early's
// no-reflect constraint already rules out this early in boot.
func funcPC(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

func init() {
	stubAddr[DivideByZero] = funcPC(isrStub0)
	stubAddr[InvalidOpcode] = funcPC(isrStub6)
	stubAddr[DoubleFault] = funcPC(isrStub8)
	stubAddr[GPFException] = funcPC(isrStub13)
	stubAddr[PageFaultException] = funcPC(isrStub14)
}

// The isrStubN declarations have no Go body; each is implemented in
// isr_386.s as a small trampoline that pushes its vector number (and a
// dummy error code for vectors the CPU does not supply one for) before
// jumping to the shared dispatch trampoline.
func isrStub0()
func isrStub6()
func isrStub8()
func isrStub13()
func isrStub14()

func setGate(vector int, handlerAddr uintptr) {
	idt[vector] = idtEntry{
		offsetLow:  uint16(handlerAddr),
		selector:   kernelCodeSel,
		zero:       0,
		typeAttr:   gateInterrupt32,
		offsetHigh: uint16(handlerAddr >> 16),
	}
}

// Init installs the exception gates this kernel knows how to take a trap
// for and loads the IDT register. Vectors without an assembled stub are
// left as empty (not-present) gates; an exception on one of those vectors
// triples to a CPU shutdown, which is the correct failure mode for a
// vector this kernel never expects to see.
func Init() {
	for vector, addr := range stubAddr {
		if addr == 0 {
			continue
		}
		setGate(vector, addr)
	}

	ptr := idtPointer{
		limit: uint16(unsafe.Sizeof(idt) - 1),
		base:  uint32(uintptr(unsafe.Pointer(&idt[0]))),
	}
	loadIDT(uintptr(unsafe.Pointer(&ptr)))
}

// loadIDT executes the LIDT instruction with the descriptor at ptrAddr.
func loadIDT(ptrAddr uintptr)

func unhandledException(num ExceptionNum, errorCode uint32, frame *Frame, regs *Regs) {
	early.Printf("\nunhandled exception %d (error code %d)\n", uint8(num), errorCode)
	regs.Print()
	frame.Print()
	kernel.Panic(&kernel.Error{Module: "irq", Message: "unhandled exception", Class: kernel.ClassFatal})
}
