package dynload

import (
	"debug/elf"
	"unsafe"
)

// elfRel is a host-native copy of an on-disk Elf32_Rel entry (no addend
// field: the addend lives in the target word itself).
type elfRel struct {
	Offset uint32
	Info   uint32
}

func readRel(base uintptr, index uint32) elfRel {
	p := base + uintptr(index)*relEntrySize
	return elfRel{
		Offset: *(*uint32)(unsafe.Pointer(p)),
		Info:   *(*uint32)(unsafe.Pointer(p + 4)),
	}
}

func relSymIndex(info uint32) uint32 { return info >> 8 }
func relType(info uint32) uint32     { return info & 0xff }

// applyRelocation dispatches a single relocation by type. forcedSym marks
// PLT priming entries: these are always R_386_JMP_SLOT and are applied
// without going through symbol resolution at all.
func applyRelocation(img *loadedImage, ctx *DynContext, rel elfRel, forcedSym bool) error {
	p := ctx.base + uintptr(rel.Offset)
	if !withinMappedSegment(img, p) || !withinMappedSegment(img, p+3) {
		return newError(InvalidRelocation, "relocation target outside mapped image", nil)
	}
	word := (*uint32)(unsafe.Pointer(p))
	rtype := elf.R_386(relType(rel.Info))

	var S uintptr
	if !forcedSym && rtype != elf.R_386_RELATIVE {
		sym := readSym(ctx.symbols, relSymIndex(rel.Info))
		name := symName(ctx.strtab, sym.Name)
		addr, err := resolve(ctx, name)
		if err != nil {
			return err
		}
		S = addr
	}

	switch rtype {
	case elf.R_386_32:
		*word += uint32(S)
	case elf.R_386_PC32:
		*word += uint32(S) - uint32(p)
	case elf.R_386_GLOB_DAT:
		*word = uint32(S)
	case elf.R_386_RELATIVE:
		*word += uint32(ctx.base)
	case elf.R_386_JMP_SLOT:
		*word += uint32(ctx.base)
	default:
		return newError(InvalidRelocation, "unsupported relocation type", nil)
	}
	return nil
}

// applyEagerRelocations walks the DT_REL array, applying every entry
// before any PLT relocation is primed.
func applyEagerRelocations(img *loadedImage, ctx *DynContext, info *dynamicInfo) error {
	if info.rel == 0 {
		return nil
	}
	count := info.relsz / relEntrySize
	for i := uint32(0); i < count; i++ {
		rel := readRel(info.rel, i)
		if err := applyRelocation(img, ctx, rel, false); err != nil {
			return err
		}
	}
	return nil
}

// primePLT rebases every DT_JMPREL entry without resolving it, producing
// the classic "first call enters the PLT, which jumps to GOT[2]" pattern.
func primePLT(img *loadedImage, ctx *DynContext, info *dynamicInfo) error {
	if info.jmprel == 0 {
		return nil
	}
	count := info.pltrelsz / relEntrySize
	for i := uint32(0); i < count; i++ {
		rel := readRel(info.jmprel, i)
		if elf.R_386(relType(rel.Info)) != elf.R_386_JMP_SLOT {
			return newError(InvalidRelocation, "PLT relocation is not R_386_JMP_SLOT", nil)
		}
		if err := applyRelocation(img, ctx, rel, true); err != nil {
			return err
		}
	}
	return nil
}
