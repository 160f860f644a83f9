package dynload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// programHeader is a host-native copy of an on-disk Elf32_Phdr entry.
type programHeader struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

// imageHeaders is the validated result of header parsing: everything
// segment mapping and relocation need from the file, already checked
// for well-formedness.
type imageHeaders struct {
	entry   uint32
	loads   []programHeader // PT_LOAD entries, file order, non-empty
	dynamic *programHeader  // PT_DYNAMIC entry, nil if the image has none
}

// pread performs a positional read and turns a short read or a kernel
// error into an IoError.
func pread(f *os.File, buf []byte, offset int64) error {
	n, err := unix.Pread(int(f.Fd()), buf, offset)
	if err != nil {
		return newError(IoError, "pread", err)
	}
	if n != len(buf) {
		return newError(IoError, "short read", nil)
	}
	return nil
}

// validateHeader rejects anything that is not a 32-bit i386 ET_DYN image
// with a sane program header table, and leaves no partial state behind
// on failure (it only reads the file; nothing is mapped yet).
func validateHeader(f *os.File) (*imageHeaders, error) {
	var raw [elfHeaderSize32]byte
	if err := pread(f, raw[:], 0); err != nil {
		return nil, err
	}

	var hdr elf.Header32
	if err := binary.Read(bytes.NewReader(raw[:]), binary.LittleEndian, &hdr); err != nil {
		return nil, newError(InvalidImage, "decode ELF header", err)
	}

	if !bytes.Equal(hdr.Ident[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return nil, newError(InvalidImage, "bad magic", nil)
	}
	if elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS32 {
		return nil, newError(InvalidImage, "not a 32-bit ELF", nil)
	}
	if elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, newError(InvalidImage, "not little-endian", nil)
	}
	if elf.Machine(hdr.Machine) != elf.EM_386 {
		return nil, newError(InvalidImage, "not EM_386", nil)
	}
	if elf.Type(hdr.Type) != elf.ET_DYN {
		return nil, newError(InvalidImage, "not ET_DYN", nil)
	}
	if hdr.Phnum == 0 {
		return nil, newError(InvalidImage, "no program headers", nil)
	}
	if int(hdr.Phnum) > maxPhnum {
		return nil, newError(InvalidImage, "e_phnum exceeds limit", nil)
	}

	buf := make([]byte, int(hdr.Phentsize)*int(hdr.Phnum))
	if err := pread(f, buf, int64(hdr.Phoff)); err != nil {
		return nil, err
	}

	phdrs := make([]programHeader, hdr.Phnum)
	r := bytes.NewReader(buf)
	for i := range phdrs {
		var raw elf.Prog32
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, newError(InvalidImage, "decode program header", err)
		}
		phdrs[i] = programHeader{
			Type: raw.Type, Offset: raw.Off, Vaddr: raw.Vaddr, Paddr: raw.Paddr,
			Filesz: raw.Filesz, Memsz: raw.Memsz, Flags: raw.Flags, Align: raw.Align,
		}
	}

	var loads []programHeader
	var dyn *programHeader
	for i := range phdrs {
		switch elf.ProgType(phdrs[i].Type) {
		case elf.PT_LOAD:
			loads = append(loads, phdrs[i])
		case elf.PT_DYNAMIC:
			d := phdrs[i]
			dyn = &d
		}
	}
	if len(loads) == 0 {
		return nil, newError(InvalidImage, "no PT_LOAD segments", nil)
	}
	if loads[0].Vaddr != 0 {
		return nil, newError(InvalidImage, "first PT_LOAD vaddr is not 0", nil)
	}

	return &imageHeaders{entry: hdr.Entry, loads: loads, dynamic: dyn}, nil
}

// elfHeaderSize32 is sizeof(Elf32_Ehdr).
const elfHeaderSize32 = 52
