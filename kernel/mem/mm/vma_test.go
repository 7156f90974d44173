package mm

import (
	"testing"

	"github.com/Blodus/2025-ikt218-osdev/kernel/config"
)

func TestInsertVMASortedOrder(t *testing.T) {
	m := New(0x1000)

	if _, err := m.InsertVMA(0x2000, 0x3000, VMARead, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.InsertVMA(0x5000, 0x6000, VMARead, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.InsertVMA(0x1000, 0x2000, VMARead, 0); err != nil {
		t.Fatal(err)
	}

	vmas := m.VMAs()
	if len(vmas) != 3 {
		t.Fatalf("expected 3 VMAs; got %d", len(vmas))
	}
	for i := 1; i < len(vmas); i++ {
		if vmas[i-1].Start >= vmas[i].Start {
			t.Fatalf("VMAs not sorted: %v", vmas)
		}
	}
}

func TestInsertVMARejectsOverlap(t *testing.T) {
	m := New(0x1000)

	if _, err := m.InsertVMA(0x1000, 0x3000, VMARead, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.InsertVMA(0x2000, 0x4000, VMARead, 0); err != ErrOverlappingVMA {
		t.Fatalf("expected ErrOverlappingVMA; got %v", err)
	}
}

func TestInsertVMARejectsKernelSpace(t *testing.T) {
	m := New(0x1000)

	if _, err := m.InsertVMA(config.KernelVirtBase-0x1000, config.KernelVirtBase+0x1000, VMARead, 0); err != ErrKernelSpaceVMA {
		t.Fatalf("expected ErrKernelSpaceVMA; got %v", err)
	}
}

func TestInsertVMARejectsInvalidSpan(t *testing.T) {
	m := New(0x1000)

	if _, err := m.InsertVMA(0x2000, 0x2000, VMARead, 0); err != ErrInvalidVMASpan {
		t.Fatalf("expected ErrInvalidVMASpan; got %v", err)
	}
	if _, err := m.InsertVMA(0x3000, 0x2000, VMARead, 0); err != ErrInvalidVMASpan {
		t.Fatalf("expected ErrInvalidVMASpan; got %v", err)
	}
}

func TestFindVMA(t *testing.T) {
	m := New(0x1000)
	m.InsertVMA(0x1000, 0x3000, VMARead, 0)
	m.InsertVMA(0x5000, 0x6000, VMARead, 0)

	if got := m.FindVMA(0x1500); got == nil || got.Start != 0x1000 {
		t.Fatalf("expected to find first VMA; got %v", got)
	}
	if got := m.FindVMA(0x5500); got == nil || got.Start != 0x5000 {
		t.Fatalf("expected to find second VMA; got %v", got)
	}
	if got := m.FindVMA(0x4000); got != nil {
		t.Fatalf("expected no VMA at gap; got %v", got)
	}
}
