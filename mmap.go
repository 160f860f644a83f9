package dynload

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// reserveSpan makes the initial anonymous PROT_NONE reservation, at a
// kernel-chosen address. The returned address is the load bias for the
// whole image.
func reserveSpan(span uintptr) (uintptr, error) {
	data, err := unix.Mmap(-1, 0, int(span), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, newError(MappingFailed, "reserve address span", err)
	}
	return uintptr(unsafe.Pointer(&data[0])), nil
}

func munmapSpan(base, span uintptr) error {
	return unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(base)), int(span)))
}

func mprotectRange(addr, size uintptr, prot int) error {
	return unix.Mprotect(unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), prot)
}
