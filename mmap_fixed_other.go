//go:build !386

package dynload

import "golang.org/x/sys/unix"

// mmapFixed is the non-i386 counterpart of mmap_fixed_386.go: these
// architectures' mmap syscall takes its six arguments directly in
// registers with a byte offset, so no page-shifting is needed. The
// loader itself only ever executes mapped i386 code under GOARCH=386,
// but header validation, segment mapping, and relocation are exercised
// by tests on whatever host the module is built for.
func mmapFixed(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	got, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		length,
		uintptr(prot),
		uintptr(flags|unix.MAP_FIXED),
		uintptr(fd),
		uintptr(offset),
	)
	if errno != 0 {
		return 0, errno
	}
	return got, nil
}
