//go:build 386

package dynload

// callRaw invokes the machine code at addr as if a CALL instruction had
// reached it directly, and returns whatever is left in AX. It exists so
// tests can drive a PLT entry the same way a caller of the loaded image
// would: the PLT stubs baked into a test image expect to be entered by a
// CALL (so a return address is on the stack), not a Go function call.
func callRaw(addr uintptr) uint32
