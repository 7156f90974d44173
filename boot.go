package main

import "github.com/Blodus/2025-ikt218-osdev/kernel"

// magic, multibootInfoPtr and kernelImageEnd are populated by the rt0
// trampoline (out of scope for this module) before main is called: magic
// and multibootInfoPtr come straight from the registers the bootloader
// leaves set at entry, kernelImageEnd from a linker-provided symbol marking
// the end of the kernel image. They are package-level variables, rather
// than main's own locals, so the compiler cannot prove them unreachable
// and optimize the call to Kmain away.
var (
	magic            uint32
	multibootInfoPtr uintptr
	kernelImageEnd   uintptr
)

// main is the only Go symbol that is visible (exported) from the rt0
// initialization code. It works as a trampoline for calling the actual
// kernel entrypoint (kernel.Kmain); its presence keeps the Go compiler
// from optimizing away the kernel code entirely, since it has no visibility
// into the rt0 code that calls it.
//
// main is invoked by the rt0 assembly after setting up the GDT and a
// minimal g0 struct that lets Go code run on the 4K stack the assembly
// allocated.
//
// main is not expected to return. If it does, the rt0 code will halt the
// CPU.
func main() {
	kernel.Kmain(magic, multibootInfoPtr, kernelImageEnd)
}
