package process

import (
	"testing"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/mm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

func TestDestroyProcessReleasesEveryResourceInOrder(t *testing.T) {
	h := newHarness(t)

	var order []string
	destroyMMFn = func(*mm.MM, vmm.FrameAllocatorFn, func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
		order = append(order, "mm")
		return nil
	}
	unmapFn = func(page vmm.Page) *kernel.Error {
		order = append(order, "kstack-unmap")
		h.unmapped = append(h.unmapped, page)
		return nil
	}

	var freed []pmm.Frame
	putFrameFn := func(f pmm.Frame) (bool, *kernel.Error) {
		freed = append(freed, f)
		if f == pmm.FrameForAddress(0x9000) {
			order = append(order, "pd")
		}
		return true, nil
	}

	proc := &PCB{
		PID:                 7,
		MM:                  mm.New(0x9000),
		PageDirectoryPhys:   0x9000,
		KernelStackVaddrTop: 0xE0004000,
	}

	if err := DestroyProcess(proc, nil, putFrameFn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if proc.MM != nil || proc.PageDirectoryPhys != 0 || proc.KernelStackVaddrTop != 0 {
		t.Fatal("expected every PCB field to be cleared after destroy")
	}
	if len(order) < 3 || order[0] != "mm" || order[len(order)-1] != "pd" {
		t.Fatalf("expected mm teardown first and PD frame release last; got %v", order)
	}
	if len(freed) == 0 {
		t.Fatal("expected kernel stack frames to be released")
	}
}

func TestDestroyProcessNilIsNoop(t *testing.T) {
	if err := DestroyProcess(nil, nil, nil); err != nil {
		t.Fatalf("expected nil error for a nil PCB; got %v", err)
	}
}

func TestDestroyProcessContinuesAfterMMError(t *testing.T) {
	newHarness(t)
	wantErr := &kernel.Error{Module: "mm", Message: "boom"}
	destroyMMFn = func(*mm.MM, vmm.FrameAllocatorFn, func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
		return wantErr
	}

	var freed []pmm.Frame
	putFrameFn := func(f pmm.Frame) (bool, *kernel.Error) {
		freed = append(freed, f)
		return true, nil
	}

	proc := &PCB{MM: mm.New(0x9000), PageDirectoryPhys: 0x9000}
	if err := DestroyProcess(proc, nil, putFrameFn); err != wantErr {
		t.Fatalf("expected the mm-teardown error to propagate; got %v", err)
	}
	if proc.MM != nil {
		t.Fatal("expected MM to be cleared even though its teardown failed")
	}
	if proc.PageDirectoryPhys != 0 {
		t.Fatal("expected the PD frame to still be released despite the earlier mm-teardown error")
	}
	if len(freed) != 1 || freed[0] != pmm.FrameForAddress(0x9000) {
		t.Fatalf("expected the PD frame to be released; got %v", freed)
	}
}
