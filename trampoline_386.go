//go:build 386

package dynload

import (
	"reflect"
	"unsafe"
)

// lazyTrampolineEntry is implemented in trampoline_386.s. Entered by a
// raw JMP from a PLT stub (not a Go call), it saves the caller's
// registers, dispatches to goLazyResolveTrampoline through the context's
// resolverEntry field, patches the stack, and transfers control to the
// resolved target.
func lazyTrampolineEntry()

func trampolineEntryAddr() uintptr {
	return reflect.ValueOf(lazyTrampolineEntry).Pointer()
}

// installTrampoline wires GOT[1] and GOT[2]: the context pointer first,
// then the trampoline entry point. The context's resolverEntry field is
// set to the Go-level resolver's address so the assembly stub can reach
// it indirectly instead of linking against it by name.
func installTrampoline(ctx *DynContext, got uintptr) {
	ctx.resolverEntry = reflect.ValueOf(goLazyResolveTrampoline).Pointer()

	slot1 := (*uint32)(unsafe.Pointer(got + 4))
	slot2 := (*uint32)(unsafe.Pointer(got + 8))
	*slot1 = uint32(uintptr(unsafe.Pointer(ctx)))
	*slot2 = uint32(trampolineEntryAddr())
}

// goLazyResolveTrampoline is called from trampoline_386.s with the two
// words a PLT stub pushes: the context pointer (GOT[1]) and the byte
// offset into the PLT relocation array. It returns the resolved absolute
// address for the trampoline to transfer control to.
//
//go:nosplit
func goLazyResolveTrampoline(ctxPtr uintptr, relocOffset uint32) uintptr {
	ctx := (*DynContext)(unsafe.Pointer(ctxPtr))
	addr, err := resolveLazy(ctx, relocOffset)
	if err != nil {
		// The PLT calling convention has no channel for an error: an
		// unresolved symbol here would crash the target call regardless.
		// Returning 0 makes that crash an immediate null-pointer jump
		// instead of a wild one.
		return 0
	}
	return addr
}

// resolveLazy looks up the relocation entry the offset names, resolves
// its symbol, and patches the GOT slot so future calls bypass the
// trampoline entirely.
func resolveLazy(ctx *DynContext, relocOffset uint32) (uintptr, error) {
	index := relocOffset / relEntrySize
	rel := readRel(ctx.pltRelocations, index)
	sym := readSym(ctx.symbols, relSymIndex(rel.Info))
	name := symName(ctx.strtab, sym.Name)

	addr, err := resolve(ctx, name)
	if err != nil {
		return 0, err
	}

	slotAddr := ctx.base + uintptr(rel.Offset)
	if !withinMappedSegment(ctx.img, slotAddr) {
		return 0, newError(InvalidRelocation, "lazy GOT slot outside mapped image", nil)
	}
	*(*uint32)(unsafe.Pointer(slotAddr)) = uint32(addr)

	return addr, nil
}
