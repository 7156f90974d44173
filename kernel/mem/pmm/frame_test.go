package pmm

import (
	"testing"

	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uintptr(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := frameIndex<<mem.PageShift, frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}

		if got := FrameForAddress(frame.Address()); got != frame {
			t.Errorf("expected FrameForAddress(%#x) to round-trip to frame %d; got %d", frame.Address(), frame, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}
