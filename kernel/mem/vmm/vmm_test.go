package vmm

import (
	"testing"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/cpu"
	"github.com/Blodus/2025-ikt218-osdev/kernel/irq"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

func TestPageFaultHandlerDelegatesToPolicy(t *testing.T) {
	defer func() {
		faultPolicy = nil
		panicFn = kernel.Panic
		readCR2Fn = cpu.ReadCR2
	}()

	readCR2Fn = func() uintptr { return 0xC0001000 }

	var gotPage Page
	var gotWrite, gotUser bool
	faultPolicy = func(page Page, write, userMode bool) bool {
		gotPage, gotWrite, gotUser = page, write, userMode
		return true
	}

	panicCalled := false
	panicFn = func(*kernel.Error) { panicCalled = true }

	pageFaultHandler(uint32(pageFaultError(0).withWrite().withUser()), &irq.Frame{}, &irq.Regs{})

	if panicCalled {
		t.Error("expected a policy that repairs the fault to avoid a panic")
	}
	if gotPage != PageFromAddress(0xC0001000) {
		t.Errorf("expected policy to be called with the faulting page; got %v", gotPage)
	}
	if !gotWrite || !gotUser {
		t.Errorf("expected write=true user=true; got write=%v user=%v", gotWrite, gotUser)
	}
}

func TestPageFaultHandlerFatalWithoutPolicy(t *testing.T) {
	defer func() {
		faultPolicy = nil
		panicFn = kernel.Panic
		readCR2Fn = cpu.ReadCR2
	}()

	readCR2Fn = func() uintptr { return 0x1000 }
	faultPolicy = nil

	panicCalled := false
	panicFn = func(*kernel.Error) { panicCalled = true }

	pageFaultHandler(0, &irq.Frame{}, &irq.Regs{})

	if !panicCalled {
		t.Error("expected a fault with no registered policy to be treated as fatal")
	}
}

func TestPageFaultHandlerFatalWhenPolicyDeclines(t *testing.T) {
	defer func() {
		faultPolicy = nil
		panicFn = kernel.Panic
		readCR2Fn = cpu.ReadCR2
	}()

	readCR2Fn = func() uintptr { return 0x1000 }
	faultPolicy = func(Page, bool, bool) bool { return false }

	panicCalled := false
	panicFn = func(*kernel.Error) { panicCalled = true }

	pageFaultHandler(0, &irq.Frame{}, &irq.Regs{})

	if !panicCalled {
		t.Error("expected a declined fault to be treated as fatal")
	}
}

func TestGeneralProtectionFaultHandlerPanics(t *testing.T) {
	defer func() { panicFn = kernel.Panic }()

	panicCalled := false
	panicFn = func(*kernel.Error) { panicCalled = true }

	generalProtectionFaultHandler(0, &irq.Frame{}, &irq.Regs{})

	if !panicCalled {
		t.Error("expected kernel.Panic to be called")
	}
}

func TestInitRegistersExceptionHandlers(t *testing.T) {
	defer func() { handleExceptionWithCodeFn = irq.HandleExceptionWithCode }()

	var registered []irq.ExceptionNum
	handleExceptionWithCodeFn = func(num irq.ExceptionNum, _ irq.ExceptionHandlerWithCode) {
		registered = append(registered, num)
	}

	if err := Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(registered) != 2 || registered[0] != irq.PageFaultException || registered[1] != irq.GPFException {
		t.Errorf("expected PageFaultException and GPFException to be registered; got %v", registered)
	}
}

func TestFrameAllocatorRoundTrip(t *testing.T) {
	defer SetFrameAllocator(nil)

	if FrameAllocator() != nil {
		t.Fatal("expected no allocator registered by default")
	}

	called := false
	SetFrameAllocator(func() (pmm.Frame, *kernel.Error) {
		called = true
		return 0, nil
	})

	if _, _ = FrameAllocator()(); !called {
		t.Error("expected FrameAllocator() to return the registered allocator")
	}
}

func (e pageFaultError) withWrite() pageFaultError { return e | 2 }
func (e pageFaultError) withUser() pageFaultError  { return e | 4 }
