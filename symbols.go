package dynload

import (
	"debug/elf"
	"unsafe"
)

// elfSym is a host-native copy of an on-disk Elf32_Sym entry.
type elfSym struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  byte
	Other byte
	Shndx uint16
}

func readSym(symtab uintptr, index uint32) elfSym {
	p := symtab + uintptr(index)*symEntrySize
	return elfSym{
		Name:  *(*uint32)(unsafe.Pointer(p)),
		Value: *(*uint32)(unsafe.Pointer(p + 4)),
		Size:  *(*uint32)(unsafe.Pointer(p + 8)),
		Info:  *(*byte)(unsafe.Pointer(p + 12)),
		Other: *(*byte)(unsafe.Pointer(p + 13)),
		Shndx: *(*uint16)(unsafe.Pointer(p + 14)),
	}
}

func symName(strtab uintptr, nameOff uint32) string {
	p := strtab + uintptr(nameOff)
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return unsafe.String((*byte)(unsafe.Pointer(p)), n)
}

func symType(info byte) elf.SymType { return elf.SymType(info & 0xf) }

// lookupLocal is a linear scan of the image's own symbol table: it
// accepts STT_OBJECT, STT_FUNC, and STT_NOTYPE. found reports that name
// matched one of those; defined reports that the match is STT_OBJECT or
// STT_FUNC (value is then its st_value) rather than STT_NOTYPE.
func lookupLocal(ctx *DynContext, name string) (value uint32, defined bool, found bool) {
	for i := uint32(0); i < ctx.symCount; i++ {
		sym := readSym(ctx.symbols, i)
		if sym.Name == 0 {
			continue
		}
		if symName(ctx.strtab, sym.Name) != name {
			continue
		}
		switch symType(sym.Info) {
		case elf.STT_OBJECT, elf.STT_FUNC:
			return sym.Value, true, true
		case elf.STT_NOTYPE:
			return 0, false, true
		}
	}
	return 0, false, false
}

// resolve looks a symbol up internally first, falling back to the
// external resolver.
func resolve(ctx *DynContext, name string) (uintptr, error) {
	if value, defined, found := lookupLocal(ctx, name); found && defined {
		return ctx.base + uintptr(value), nil
	}
	if ctx.externResolver != nil {
		if addr := ctx.externResolver(name); addr != 0 {
			return addr, nil
		}
	}
	return 0, newError(InvalidRelocation, "unresolved symbol "+name, nil)
}

// GetSymbol performs internal-only lookup (no external fallback),
// returning 0 if name is undefined or absent.
func (h *Handle) GetSymbol(name string) uintptr {
	value, defined, found := lookupLocal(h.image.ctx, name)
	if !found || !defined {
		return 0
	}
	return h.image.ctx.base + uintptr(value)
}
