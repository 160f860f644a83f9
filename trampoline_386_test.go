//go:build 386

package dynload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"runtime"
	"testing"
	"unsafe"
)

// Layout of the synthetic image built by writeLazyPLTSharedObject. These
// are declared once so both the builder and the test that patches and
// drives the result agree on where everything lives.
const (
	lazyFileSize  = 4096
	lazyStrtabOff = 0x500
	lazySymtabOff = 0x600
	lazyHashOff   = 0x700
	lazyJmprelOff = 0x710
	lazyDynOff    = 0x800
	lazyGotOff    = 0x900
	lazyFnOff     = 0x950
	lazyPltOff    = 0x960
	lazyPlt0Off   = lazyPltOff + 16

	lazyGot1Off = lazyGotOff + 4 // context pointer, filled by installTrampoline
	lazyGot2Off = lazyGotOff + 8 // trampoline entry, filled by installTrampoline
	lazyGot3Off = lazyGotOff + 12
)

// TestLazyPLTResolvesExactlyOnce builds an image with a real PLT/JMPREL
// entry, calls into the PLT stub twice, and checks that the external
// resolver runs on the first call only: the first call must fall through
// .PLTn's indirect jump into .PLT0 and the trampoline, and resolveLazy
// must then patch the GOT slot so the second call's indirect jump lands
// on the resolved function directly, never touching the trampoline.
func TestLazyPLTResolvesExactlyOnce(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("executing a mapped i386 PLT stub requires Linux mmap/mprotect")
	}

	path := writeLazyPLTSharedObject(t)

	var resolveCount int
	var base uintptr
	resolver := func(name string) uintptr {
		if name != "exported" {
			return 0
		}
		resolveCount++
		return base + lazyFnOff
	}

	handle, err := Load(path, resolver)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	base = handle.Base()

	// The three FF 25/FF 35 operands below are absolute addresses, which
	// can only be known once the kernel has picked a load address: patch
	// them into the now-mapped (still writable) image before driving it.
	putMappedU32(base+lazyPltOff+2, uint32(base+lazyGot3Off))
	putMappedU32(base+lazyPlt0Off+2, uint32(base+lazyGot1Off))
	putMappedU32(base+lazyPlt0Off+8, uint32(base+lazyGot2Off))

	entry := base + lazyPltOff
	for i := 0; i < 2; i++ {
		got := callRaw(entry)
		if got != 0x2a {
			t.Fatalf("call %d: callRaw(plt) = %#x, want 0x2a", i, got)
		}
	}
	if resolveCount != 1 {
		t.Errorf("external resolver invoked %d times, want exactly 1", resolveCount)
	}
}

func putMappedU32(addr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = v
}

// writeLazyPLTSharedObject assembles an ET_DYN/EM_386 image on disk with
// one RWX PT_LOAD segment holding, besides the usual hash/symtab/strtab,
// a four-word GOT, a .PLTn/.PLT0 stub pair, and the tiny function
// (mov eax, 0x2a; ret) that stub eventually resolves to. The PLT stub
// encodes the real i386 ABI lazily-bound entry:
//
//	.PLTn: jmp  *GOT[3]      ; initially rebased to the push below
//	       push $reloc_off   ; reloc_off = 0, the sole DT_JMPREL entry
//	       jmp  .PLT0
//	.PLT0: push *GOT[1]      ; context pointer, installed by Load
//	       jmp  *GOT[2]      ; trampoline entry, installed by Load
//
// The three FF 25/FF 35 operands are absolute addresses that depend on
// the load bias, so they are written as zero here and patched in by the
// test once Load has picked a base; everything else is fixed at build
// time.
//
// It returns the temp file path; the layout constants above give the
// caller everything else it needs.
func writeLazyPLTSharedObject(t *testing.T) (path string) {
	t.Helper()

	const (
		fileSize  = lazyFileSize
		strtabOff = lazyStrtabOff
		symtabOff = lazySymtabOff
		hashOff   = lazyHashOff
		jmprelOff = lazyJmprelOff
		dynOff    = lazyDynOff
		gotOff    = lazyGotOff
		fnOff     = lazyFnOff
		pltOff    = lazyPltOff
		plt0Off   = lazyPlt0Off
		got1Off   = lazyGot1Off
		got2Off   = lazyGot2Off
		got3Off   = lazyGot3Off
	)

	buf := make([]byte, fileSize)
	copy(buf[strtabOff:], "\x00exported\x00")
	writeSymEntry(buf, symtabOff, 0, 0, 0, 0)
	writeSymEntry(buf, symtabOff+symEntrySize, 1, 0, 0, stInfo(elf.STT_NOTYPE, elf.STB_GLOBAL))
	putU32(buf, hashOff, 1)
	putU32(buf, hashOff+4, 2)

	writeRelEntry(buf, jmprelOff, got3Off, 1, elf.R_386_JMP_SLOT)

	off := dynOff
	off = writeDynEntry(buf, off, elf.DT_HASH, hashOff)
	off = writeDynEntry(buf, off, elf.DT_STRTAB, strtabOff)
	off = writeDynEntry(buf, off, elf.DT_SYMTAB, symtabOff)
	off = writeDynEntry(buf, off, elf.DT_JMPREL, jmprelOff)
	off = writeDynEntry(buf, off, elf.DT_PLTRELSZ, relEntrySize)
	off = writeDynEntry(buf, off, elf.DT_PLTGOT, gotOff)
	writeDynEntry(buf, off, elf.DT_NULL, 0)

	// mov eax, 0x2a; ret
	copy(buf[fnOff:], []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3})

	// .PLTn: jmp *GOT[3] (operand patched at runtime)
	buf[pltOff] = 0xFF
	buf[pltOff+1] = 0x25
	// push $0 (reloc offset: the sole DT_JMPREL entry, index 0)
	buf[pltOff+6] = 0x68
	putU32(buf, pltOff+7, 0)
	// jmp .PLT0 (falls straight through, rel32 == 0)
	buf[pltOff+11] = 0xE9
	putU32(buf, pltOff+12, 0)

	// .PLT0: push *GOT[1] (operand patched at runtime)
	buf[plt0Off] = 0xFF
	buf[plt0Off+1] = 0x35
	// jmp *GOT[2] (operand patched at runtime)
	buf[plt0Off+6] = 0xFF
	buf[plt0Off+7] = 0x25

	// GOT[3] starts out pointing at the "push $reloc_off" instruction
	// inside .PLTn: primePLT rebases it by the load bias, so the first
	// indirect jump through it lands on the lazy path.
	putU32(buf, got3Off, pltOff+6)

	var hdr elf.Header32
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F'})
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Type = uint16(elf.ET_DYN)
	hdr.Machine = uint16(elf.EM_386)
	hdr.Version = uint32(elf.EV_CURRENT)
	hdr.Phoff = elfHeaderSize32
	hdr.Ehsize = elfHeaderSize32
	hdr.Phentsize = 32

	var load, dyn elf.Prog32
	load.Type = uint32(elf.PT_LOAD)
	load.Filesz = fileSize
	load.Memsz = fileSize
	load.Flags = uint32(elf.PF_R | elf.PF_W | elf.PF_X)
	load.Align = pageSize

	dyn.Type = uint32(elf.PT_DYNAMIC)
	dyn.Off = dynOff
	dyn.Vaddr = dynOff
	dyn.Filesz = 7 * 8
	dyn.Memsz = 7 * 8
	dyn.Flags = uint32(elf.PF_R | elf.PF_W)
	dyn.Align = 4

	phdrs := []elf.Prog32{load, dyn}
	hdr.Phnum = uint16(len(phdrs))

	var head bytes.Buffer
	if err := binary.Write(&head, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	copy(buf[0:], head.Bytes())

	phOff := int(hdr.Phoff)
	for _, ph := range phdrs {
		var pb bytes.Buffer
		if err := binary.Write(&pb, binary.LittleEndian, ph); err != nil {
			t.Fatalf("encode program header: %v", err)
		}
		copy(buf[phOff:], pb.Bytes())
		phOff += int(hdr.Phentsize)
	}

	f, err := os.CreateTemp(t.TempDir(), "lazyplt-*.so")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return f.Name()
}
