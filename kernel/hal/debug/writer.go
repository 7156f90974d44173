// Package debug implements an allocation-free diagnostic output sink for use
// before the console/terminal driver (an explicit external collaborator,
// out of scope for this core) exists. It writes to the Bochs/QEMU debug
// port (0xE9) when present and mirrors every byte to the first 16550 UART
// (COM1, 0x3F8), which is what most emulators and real serial consoles
// expose by default.
package debug

import "github.com/Blodus/2025-ikt218-osdev/kernel/cpu"

const (
	bochsDebugPort = 0xE9
	com1Port       = 0x3F8

	uartLineControlOffset = 3
	uartLineControl8N1    = 0x03

	uartLineStatusOffset = 5
	uartTHREmptyBit      = 0x20
)

// Writer is a singleton output sink providing the WriteByte/Write surface
// that kfmt/early.Printf writes through.
type Writer struct {
	initialized bool
}

// Init brings up the UART for 8N1 at the default BIOS-set baud rate. Safe to
// call multiple times; only the first call has any effect.
func (w *Writer) Init() {
	if w.initialized {
		return
	}
	cpu.OutB(com1Port+uartLineControlOffset, uartLineControl8N1)
	w.initialized = true
}

// WriteByte writes a single byte to both debug sinks.
func (w *Writer) WriteByte(b byte) {
	cpu.OutB(bochsDebugPort, b)
	w.waitForTHREmpty()
	cpu.OutB(com1Port, b)
}

// Write writes every byte of p to both debug sinks, returning len(p), nil
// always (a debug sink never reports a write failure).
func (w *Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		w.WriteByte(b)
	}
	return len(p), nil
}

// waitForTHREmpty spins until the UART's transmit holding register is empty.
func (w *Writer) waitForTHREmpty() {
	for cpu.InB(com1Port+uartLineStatusOffset)&uartTHREmptyBit == 0 {
	}
}
