package dynload

import (
	"debug/elf"
	"unsafe"
)

// DynContext is the heap-resident record that the runtime trampoline
// reaches through GOT[1]. resolverEntry must stay the first field: the
// assembly trampoline in trampoline_386.s loads it from offset 0 of the
// context pointer.
type DynContext struct {
	resolverEntry  uintptr
	base           uintptr
	dynSection     uintptr
	pltRelocations uintptr
	symbols        uintptr
	strtab         uintptr
	externResolver SymbolResolver

	// symCount and img are implementation bookkeeping: symCount is the
	// symbol-table bound recovered from DT_HASH, and img lets relocation
	// code bounds-check patched words against the mapped segments.
	symCount uint32
	img      *loadedImage
}

// dynamicInfo collects the dynamic-section tags relevant to relocation.
type dynamicInfo struct {
	hash     uintptr
	strtab   uintptr
	symtab   uintptr
	rel      uintptr
	relsz    uint32
	jmprel   uintptr
	pltrelsz uint32
	relent   uint32
	pltgot   uintptr
	symCount uint32
}

// walkDynamic iterates the PT_DYNAMIC entries of an already-mapped image
// until DT_NULL, collecting the tags relocation and symbol lookup need.
// Missing DT_HASH/DT_STRTAB/DT_SYMTAB, or a DT_RELENT other than 8, is
// reported as InvalidRelocation.
func walkDynamic(img *loadedImage, dynVaddr uint32) (*dynamicInfo, error) {
	base := img.base
	p := base + uintptr(dynVaddr)

	info := &dynamicInfo{}
	var haveHash, haveStrtab, haveSymtab bool

	for {
		if !withinMappedSegment(img, p) || !withinMappedSegment(img, p+7) {
			return nil, newError(InvalidRelocation, "dynamic section runs outside mapped image", nil)
		}
		tag := *(*uint32)(unsafe.Pointer(p))
		val := *(*uint32)(unsafe.Pointer(p + 4))

		dtag := elf.DynTag(tag)
		if dtag == elf.DT_NULL {
			break
		}
		switch dtag {
		case elf.DT_HASH:
			info.hash = base + uintptr(val)
			haveHash = true
		case elf.DT_STRTAB:
			info.strtab = base + uintptr(val)
			haveStrtab = true
		case elf.DT_SYMTAB:
			info.symtab = base + uintptr(val)
			haveSymtab = true
		case elf.DT_REL:
			info.rel = base + uintptr(val)
		case elf.DT_RELSZ:
			info.relsz = val
		case elf.DT_JMPREL:
			info.jmprel = base + uintptr(val)
		case elf.DT_PLTRELSZ:
			info.pltrelsz = val
		case elf.DT_RELENT:
			info.relent = val
		case elf.DT_PLTGOT:
			info.pltgot = base + uintptr(val)
		}
		p += 8
	}

	if !haveHash || !haveStrtab || !haveSymtab {
		return nil, newError(InvalidRelocation, "dynamic section missing DT_HASH/DT_STRTAB/DT_SYMTAB", nil)
	}
	if info.relent != 0 && info.relent != relEntrySize {
		return nil, newError(InvalidRelocation, "DT_RELENT is not 8", nil)
	}
	if !withinMappedSegment(img, info.hash) || !withinMappedSegment(img, info.hash+7) {
		return nil, newError(InvalidRelocation, "DT_HASH outside mapped image", nil)
	}

	// DT_HASH layout: nbucket, nchain, bucket[nbucket], chain[nchain].
	// nchain doubles as the number of symbol table entries.
	info.symCount = *(*uint32)(unsafe.Pointer(info.hash + 4))

	return info, nil
}
