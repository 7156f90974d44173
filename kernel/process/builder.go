package process

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/config"
	"github.com/Blodus/2025-ikt218-osdev/kernel/cpu"
	"github.com/Blodus/2025-ikt218-osdev/kernel/elf"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/mm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// The following package vars exist so tests can override every call this
// package makes into hardware-dependent packages (vmm, cpu) without those
// packages' own internal mockable vars being visible across the package
// boundary; see kernel/mem/mm, kernel/mem/kheap and kernel/elf for the
// same pattern applied to their own collaborators.
var (
	mapFn       = vmm.Map
	unmapFn     = vmm.Unmap
	translateFn = vmm.Translate

	switchPDTFn         = cpu.SwitchPDT
	activePDTFn         = cpu.ActivePDT
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts

	loadElfFn   = elf.Load
	destroyMMFn = mm.Destroy

	initPDFromKernelFn = func(pdFrame pmm.Frame, allocFn vmm.FrameAllocatorFn, getFrameFn func(pmm.Frame) *kernel.Error) *kernel.Error {
		var pdt vmm.PageDirectoryTable
		return pdt.InitFromKernel(pdFrame, allocFn, getFrameFn)
	}

	// writeIRETFrameFn performs the actual unsafe write of the IRET frame
	// onto a process's kernel stack. Tests override it, since destAddr is
	// a real kernel virtual address with no backing memory in a hosted
	// test process.
	writeIRETFrameFn = func(destAddr uintptr, regs *Registers) {
		dest := (*[5]uint32)(unsafe.Pointer(destAddr))
		src := (*[5]uint32)(unsafe.Pointer(&regs.EIP))
		*dest = *src
	}
)

// ErrKernelStackExhausted is returned when the kernel-stack virtual
// address region has no room left for another stack.
var ErrKernelStackExhausted = &kernel.Error{Module: "process", Message: "kernel stack virtual address region exhausted", Class: kernel.ClassResourceExhausted}

const kstackSize = uintptr(config.ProcessKstackPages) * uintptr(mem.PageSize)

// GDT selector layout this builder assumes: a conventional five-entry
// table (null, kernel code, kernel data, user code, user data) installed
// by the out-of-scope GDT package at boot. The RPL bits are ORed in when
// a selector is placed on the IRET frame.
const (
	userCodeSelector = 0x18
	userDataSelector = 0x20
	userRPL          = 3

	// defaultEFlags enables interrupts (IF) and sets the reserved bit 1
	// that every EFLAGS value must carry.
	defaultEFlags = 0x202
)

// kstackNextVirt is the bump pointer behind allocateKernelStackVirt. It
// only moves back when rewindKernelStackVirt undoes a failed
// allocateKernelStack; a destroyed process's range is never reclaimed, so
// config.KernelStackVirtEnd is a hard ceiling on the number of processes
// this kernel can create over its lifetime.
var kstackNextVirt = config.KernelStackVirtStart

func allocateKernelStackVirt(size uintptr) (uintptr, *kernel.Error) {
	base := kstackNextVirt
	end := base + size
	if end <= base || end > config.KernelStackVirtEnd {
		return 0, ErrKernelStackExhausted
	}
	kstackNextVirt = end
	return end, nil
}

func rewindKernelStackVirt(size uintptr) {
	kstackNextVirt -= size
}

// CreateUserProcess allocates a PCB, a kernel stack, and a cloned page
// directory, loads path via reader into a fresh mm, installs the heap and
// user-stack VMAs, pre-populates the top user-stack page, and manufactures
// the IRET frame the scheduler needs for this process's first dispatch.
//
// The kernel stack is allocated and mapped into the kernel page directory
// before the process's own page directory is cloned, so that if this is
// the first process ever to need a page table for that slice of kernel
// stack space, the newly-created PDE is already present in the kernel PD
// by the time it is copied into the process's PD (kernel-space PDEs are
// otherwise shared across every process's page directory by construction,
// since InitFromKernel only ever copies already-established table
// pointers rather than deep-copying their contents).
func CreateUserProcess(path string, reader elf.FileReader, allocFn vmm.FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error), getFrameFn func(pmm.Frame) *kernel.Error, tss TSS) (*PCB, *kernel.Error) {
	proc := &PCB{PID: allocatePID()}

	kstackTop, err := allocateKernelStack(allocFn, putFrameFn)
	if err != nil {
		return nil, err
	}
	proc.KernelStackVaddrTop = kstackTop
	tss.SetKernelStack(kstackTop)

	pdFrame, err := allocFn()
	if err != nil {
		freeKernelStack(kstackTop, putFrameFn)
		return nil, err
	}
	if err := initPDFromKernelFn(pdFrame, allocFn, getFrameFn); err != nil {
		freeKernelStack(kstackTop, putFrameFn)
		putFrameFn(pdFrame)
		return nil, err
	}
	proc.PageDirectoryPhys = pdFrame.Address()
	proc.MM = mm.New(proc.PageDirectoryPhys)

	// Everything from here on touches the process's own address space,
	// which is only reachable through vmm's recursive mapping once it is
	// the active page directory. Interrupts stay disabled for the
	// duration: this process is not yet known to the scheduler, so a
	// timer tick landing mid-build must not be allowed to switch away
	// with a foreign page directory active.
	prevPD := activePDTFn()
	disableInterruptsFn()

	fail := func(e *kernel.Error) (*PCB, *kernel.Error) {
		switchPDTFn(prevPD)
		enableInterruptsFn()
		DestroyProcess(proc, allocFn, putFrameFn)
		return nil, e
	}

	switchPDTFn(pdFrame.Address())

	result, err := loadElfFn(proc.MM, reader, path, allocFn, putFrameFn)
	if err != nil {
		return fail(err)
	}
	proc.EntryPoint = result.Entry
	proc.MM.StartBrk = result.InitialBrk
	proc.MM.EndBrk = result.InitialBrk

	stackFlags := mm.VMARead | mm.VMAWrite | mm.VMAUser | mm.VMAGrowsDown | mm.VMAAnonymous
	stackProt := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUser
	if _, err := proc.MM.InsertVMA(config.UserStackBottomVirt, config.UserStackTopVirt, stackFlags, stackProt); err != nil {
		return fail(err)
	}
	proc.UserStackTop = config.UserStackTopVirt

	stackFrame, err := allocFn()
	if err != nil {
		return fail(err)
	}
	initialStackPage := config.UserStackTopVirt - uintptr(mem.PageSize)
	if err := mapFn(vmm.PageFromAddress(initialStackPage), stackFrame, stackProt, allocFn); err != nil {
		putFrameFn(stackFrame)
		return fail(err)
	}

	proc.KernelESPForSwitch = prepareInitialKernelStack(proc)

	switchPDTFn(prevPD)
	enableInterruptsFn()

	return proc, nil
}

// allocateKernelStack reserves config.ProcessKstackPages frames and a
// matching virtual range from the kernel stack region, maps them into the
// currently active (kernel) page directory with kernel R/W protection, and
// returns the virtual address one past the top of the stack.
func allocateKernelStack(allocFn vmm.FrameAllocatorFn, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) (uintptr, *kernel.Error) {
	frames := make([]pmm.Frame, 0, config.ProcessKstackPages)
	for i := 0; i < config.ProcessKstackPages; i++ {
		f, err := allocFn()
		if err != nil {
			for _, f := range frames {
				putFrameFn(f)
			}
			return 0, err
		}
		frames = append(frames, f)
	}

	top, err := allocateKernelStackVirt(kstackSize)
	if err != nil {
		for _, f := range frames {
			putFrameFn(f)
		}
		return 0, err
	}

	base := top - kstackSize
	for i, f := range frames {
		vaddr := base + uintptr(i)*uintptr(mem.PageSize)
		if err := mapFn(vmm.PageFromAddress(vaddr), f, vmm.FlagPresent|vmm.FlagRW, allocFn); err != nil {
			for j := 0; j < i; j++ {
				unmapFn(vmm.PageFromAddress(base + uintptr(j)*uintptr(mem.PageSize)))
			}
			for _, rem := range frames {
				putFrameFn(rem)
			}
			rewindKernelStackVirt(kstackSize)
			return 0, err
		}
	}

	return top, nil
}

// freeKernelStack releases every frame backing [top-kstackSize, top) and
// removes the range from the kernel page directory. It does not rewind
// the bump pointer; see kstackNextVirt.
func freeKernelStack(top uintptr, putFrameFn func(pmm.Frame) (bool, *kernel.Error)) *kernel.Error {
	base := top - kstackSize
	for vaddr := base; vaddr < top; vaddr += uintptr(mem.PageSize) {
		if phys, err := translateFn(vaddr); err == nil {
			if _, err := putFrameFn(pmm.FrameForAddress(phys)); err != nil {
				return err
			}
		}
		if err := unmapFn(vmm.PageFromAddress(vaddr)); err != nil {
			return err
		}
	}
	return nil
}

// prepareInitialKernelStack writes the five-dword IRET frame at the top of
// proc's kernel stack (user SS, user ESP, EFLAGS, user CS, user EIP from
// high to low address, matching the order IRET pops them) and returns the
// resulting kernel ESP. Registers.EIP through Registers.UserSS are laid
// out contiguously in that exact ascending order, so the struct doubles
// as the destination overlay: no general-purpose registers are pushed,
// since their initial values at user entry are unspecified.
func prepareInitialKernelStack(proc *PCB) uintptr {
	var regs Registers
	regs.EIP = uint32(proc.EntryPoint)
	regs.CS = userCodeSelector | userRPL
	regs.EFlags = defaultEFlags
	regs.UserESP = uint32(proc.UserStackTop)
	regs.UserSS = userDataSelector | userRPL

	const iretFrameSize = 5 * unsafe.Sizeof(uint32(0))
	destAddr := proc.KernelStackVaddrTop - iretFrameSize
	writeIRETFrameFn(destAddr, &regs)

	return destAddr
}
