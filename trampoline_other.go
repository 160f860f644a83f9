//go:build !386

package dynload

// The lazy-binding trampoline is i386 machine code by definition, so it
// only exists under GOARCH=386 (trampoline_386.s). On every other
// architecture installTrampoline is a stub: the image still maps and its
// eager relocations still apply, but any PLT slot reached through GOT[2]
// would need an i386 CPU context that this process does not have.
func installTrampoline(ctx *DynContext, got uintptr) {
	ctx.resolverEntry = 0
}
