package dynload

import (
	"debug/elf"

	"golang.org/x/sys/unix"
)

const (
	// maxPhnum bounds the program header table: a well-formed image
	// never has more than this many.
	maxPhnum = 100

	// pageSize is assumed fixed for the target environment.
	pageSize = 4096

	// relEntrySize is sizeof(Elf32_Rel): r_offset, r_info, both uint32.
	relEntrySize = 8

	// symEntrySize is sizeof(Elf32_Sym).
	symEntrySize = 16
)

// Prot is the permission set a mapped region carries, independent of the
// host's PROT_* numbering: any combination of read, write, and exec.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

func (p Prot) toUnix() int {
	n := 0
	if p&ProtRead != 0 {
		n |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		n |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		n |= unix.PROT_EXEC
	}
	return n
}

func elfFlagsToProt(flags uint32) Prot {
	var p Prot
	if flags&uint32(elf.PF_R) != 0 {
		p |= ProtRead
	}
	if flags&uint32(elf.PF_W) != 0 {
		p |= ProtWrite
	}
	if flags&uint32(elf.PF_X) != 0 {
		p |= ProtExec
	}
	return p
}

func roundDown(x, align uintptr) uintptr { return x &^ (align - 1) }
func roundUp(x, align uintptr) uintptr   { return (x + align - 1) &^ (align - 1) }
