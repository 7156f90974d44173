// Package elf loads a 32-bit ELF executable into a process's address
// space: it validates the header and program headers, then for each
// loadable segment inserts a VMA and populates the backing pages with
// file data and zero-filled BSS. It is the Go analogue of
// load_elf_and_init_memory/copy_elf_segment_data in the process core
// this kernel is based on.
package elf

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
)

const (
	magic0, magic1, magic2, magic3 = 0x7F, 'E', 'L', 'F'

	classELF32   = 1
	dataLSB      = 1
	versionEVCur = 1

	typeExec    = 2
	machineI386 = 3

	ptLoad = 1

	pfX = 1 << 0
	pfW = 1 << 1
	pfR = 1 << 2
)

const (
	ehdrSize = 52
	phdrSize = 32
)

// Header is the subset of Elf32_Ehdr this loader inspects.
type Header struct {
	Entry   uint32
	PhOff   uint32
	PhEntSz uint16
	PhNum   uint16
}

// ProgramHeader is Elf32_Phdr.
type ProgramHeader struct {
	Type   uint32
	Offset uint32
	VAddr  uint32
	FileSz uint32
	MemSz  uint32
	Flags  uint32
}

// ErrTooSmall is returned when the file buffer is shorter than a
// minimal ELF header.
var ErrTooSmall = &kernel.Error{Module: "elf", Message: "file too small for an ELF header", Class: kernel.ClassInvalidExecutable}

// ErrInvalidHeader is returned when the magic, class, endianness, type,
// machine, version, header size, or header bounds fail validation.
var ErrInvalidHeader = &kernel.Error{Module: "elf", Message: "invalid or unsupported ELF header", Class: kernel.ClassInvalidExecutable}

// ErrInvalidSegment is returned when a PT_LOAD segment's geometry is
// unsafe: it reaches into kernel space, wraps the address space, or its
// file slice exceeds filesz/memsz or the file buffer.
var ErrInvalidSegment = &kernel.Error{Module: "elf", Message: "invalid PT_LOAD segment geometry", Class: kernel.ClassInvalidExecutable}

func le32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func le16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

// parseHeader validates and decodes the ELF header at the start of buf.
func parseHeader(buf []byte, kernelVirtBase uintptr) (Header, *kernel.Error) {
	if len(buf) < ehdrSize {
		return Header{}, ErrTooSmall
	}
	if buf[0] != magic0 || buf[1] != magic1 || buf[2] != magic2 || buf[3] != magic3 {
		return Header{}, ErrInvalidHeader
	}
	if buf[4] != classELF32 || buf[5] != dataLSB {
		return Header{}, ErrInvalidHeader
	}

	h := Header{
		Entry:   le32(buf, 24),
		PhOff:   le32(buf, 28),
		PhEntSz: le16(buf, 42),
		PhNum:   le16(buf, 44),
	}
	etype := le16(buf, 16)
	machine := le16(buf, 18)
	version := le32(buf, 20)

	switch {
	case etype != typeExec:
		return Header{}, ErrInvalidHeader
	case machine != machineI386:
		return Header{}, ErrInvalidHeader
	case version != versionEVCur:
		return Header{}, ErrInvalidHeader
	case h.PhEntSz != phdrSize:
		return Header{}, ErrInvalidHeader
	case h.PhOff == 0 || h.PhNum == 0:
		return Header{}, ErrInvalidHeader
	case uint64(h.PhOff)+uint64(h.PhNum)*uint64(h.PhEntSz) > uint64(len(buf)):
		return Header{}, ErrInvalidHeader
	case h.Entry == 0:
		return Header{}, ErrInvalidHeader
	}

	// A user entry point in kernel space is suspicious but not, by
	// itself, fatal; the segment validation below is what actually keeps
	// the loader from ever mapping anything into kernel space.
	_ = kernelVirtBase

	return h, nil
}

func parseProgramHeader(buf []byte, off uint32) ProgramHeader {
	b := buf[off:]
	return ProgramHeader{
		Type:   le32(b, 0),
		Offset: le32(b, 4),
		VAddr:  le32(b, 8),
		FileSz: le32(b, 16),
		MemSz:  le32(b, 20),
		Flags:  le32(b, 24),
	}
}

// validateSegment rejects geometry that would let a later step write
// outside the file buffer or into kernel space.
func validateSegment(ph ProgramHeader, fileSize int, kernelVirtBase uintptr) *kernel.Error {
	vaddr := uintptr(ph.VAddr)
	memsz := uintptr(ph.MemSz)
	end := vaddr + memsz

	switch {
	case vaddr >= kernelVirtBase:
		return ErrInvalidSegment
	case end < vaddr:
		return ErrInvalidSegment
	case end > kernelVirtBase:
		return ErrInvalidSegment
	case ph.FileSz > ph.MemSz:
		return ErrInvalidSegment
	case uint64(ph.Offset) > uint64(fileSize):
		return ErrInvalidSegment
	case uint64(ph.FileSz) > uint64(fileSize)-uint64(ph.Offset):
		return ErrInvalidSegment
	}
	return nil
}

func pageAlignDown(v uintptr, pageSize uintptr) uintptr {
	return v &^ (pageSize - 1)
}

func pageAlignUp(v uintptr, pageSize uintptr) uintptr {
	return (v + pageSize - 1) &^ (pageSize - 1)
}

func maxU(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func minU(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}
