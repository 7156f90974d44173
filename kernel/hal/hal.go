// Package hal wires up the hardware-facing singletons the rest of the
// kernel writes through: a single diagnostic output writer, configured once
// at boot. Terminal/console rendering is an explicit external collaborator
// for this core, so the writer targets the Bochs/QEMU debug port and the
// 16550 UART rather than a framebuffer.
package hal

import "github.com/Blodus/2025-ikt218-osdev/kernel/hal/debug"

// ActiveWriter is the process-wide singleton that kfmt/early.Printf writes
// through. It is configured once during InitDebugWriter and read thereafter,
// matching the "explicitly-initialized singleton" guidance for global
// mutables in this kernel.
var ActiveWriter = &debug.Writer{}

// InitDebugWriter brings up the debug-port writer. Safe to call before any
// memory management is available: it performs no allocation.
func InitDebugWriter() {
	ActiveWriter.Init()
}
