// Package cpu exposes the architecture primitives the memory and
// process-creation core needs: interrupt masking, TLB control, CR3/CR4
// access and port I/O. Each function below is declared without a body and
// implemented in the matching .s file.
package cpu

// EnableInterrupts enables interrupt handling (STI).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (CLI).
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt (HLT).
func Halt()

// FlushTLBEntry flushes a single TLB entry for a particular virtual address
// (INVLPG).
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets CR3 to the given physical address, flushing the entire TLB.
// Used internally by the recursive-mapping trick to temporarily borrow the
// active PDT's last slot when editing an inactive page directory.
func SwitchPDT(pdtPhysAddr uintptr)

// LoadCR3 loads CR3 with the given physical address. Distinct from
// SwitchPDT only in intent: this is the one-shot "activate this address
// space" call used by the paging engine's activate(), not the
// switch-away-and-restore pattern PageDirectoryTable.Map/Unmap use
// internally.
func LoadCR3(pdtPhysAddr uintptr)

// ActivePDT returns the physical address currently loaded into CR3.
func ActivePDT() uintptr

// ReadCR2 returns the faulting virtual address the CPU latched into CR2
// during the page fault currently being handled.
func ReadCR2() uintptr

// CPUID executes the CPUID instruction for the given leaf and returns the
// four result registers.
func CPUID(leaf uint32) (eax, ebx, ecx, edx uint32)

// EnablePSEAndNX sets CR4.PSE if pseAvailable (letting page directory
// entries map 4 MiB pages directly) and EFER.NXE (via the MSR_EFER write)
// if nxAvailable. Called once during paging setup after the capability
// flags have been read via CPUID. The non-PAE page table format this
// kernel uses has no no-execute bit, so the NXE write has no effect on
// mappings; it is still issued so capability detection matches what a
// PAE-aware paging layer would need.
func EnablePSEAndNX(pseAvailable, nxAvailable bool)

// OutB writes a single byte to the given I/O port.
func OutB(port uint16, value byte)

// InB reads a single byte from the given I/O port.
func InB(port uint16) byte
