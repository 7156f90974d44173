// Package process builds and tears down user processes: a page directory
// cloned from the kernel's own, a private kernel stack, a memory
// descriptor populated by the ELF loader, and the initial kernel-stack
// frame that lets the (out-of-scope) scheduler IRET into ring 3 for the
// first time. It is the Go analogue of the create_user_process/
// destroy_process pair in the process core this kernel is based on.
package process

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/mm"
)

// Registers mirrors registers_t, the fixed trapframe layout the
// (out-of-scope) interrupt stub assembly pushes onto a kernel stack: a
// general-purpose register dump from pushad, the data/extra segment
// selectors, the exception vector and its error code, then the dwords the
// CPU itself pushes (EIP, CS, EFLAGS) and, only across a privilege change,
// UserESP/UserSS. The IRET-frame manufacture in prepareInitialKernelStack
// depends on this exact field order; treat it as a read-only
// ABI view, never as a type to construct ad hoc.
type Registers struct {
	EDI, ESI, EBP, espDummy, EBX, EDX, ECX, EAX uint32
	DS, ES, FS, GS                              uint32
	IntNo, ErrCode                              uint32
	EIP, CS, EFlags                             uint32
	UserESP, UserSS                             uint32
}

// TSS is the scheduler collaborator's hook for publishing the ring-0
// stack pointer the CPU loads on every ring-3 to ring-0 transition. The
// real GDT/TSS package installs this; tests use an in-memory stub.
type TSS interface {
	SetKernelStack(esp0 uintptr)
}

// PCB is a process control block: everything the builder establishes and
// the (out-of-scope) scheduler later needs to dispatch the process.
type PCB struct {
	PID uint32

	PageDirectoryPhys uintptr
	MM                *mm.MM

	KernelStackVaddrTop uintptr
	EntryPoint          uintptr
	UserStackTop        uintptr

	// KernelESPForSwitch is the kernel stack pointer the scheduler loads
	// before its first IRET into this process: the address of the IRET
	// frame manufactured by prepareInitialKernelStack.
	KernelESPForSwitch uintptr
}

// nextPID is a monotonic PID counter. Single-CPU and uncontended; a
// multi-core build would need this to be an atomic.
var nextPID uint32 = 1

func allocatePID() uint32 {
	pid := nextPID
	nextPID++
	return pid
}
