//go:build 386

package dynload

import "golang.org/x/sys/unix"

// mmapFixed lands a PRIVATE|FIXED mapping at an exact address within a
// span already reserved by reserveSpan. x/sys/unix's high-level Mmap
// wrapper always picks its own address, so fixed-address segment and
// BSS-overlay mappings go through the raw mmap2 syscall instead, which
// is the only one on i386 whose arguments pass through registers rather
// than a single packed struct pointer — and which takes a page-shifted
// offset rather than a byte offset.
func mmapFixed(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	got, _, errno := unix.Syscall6(
		unix.SYS_MMAP2,
		addr,
		length,
		uintptr(prot),
		uintptr(flags|unix.MAP_FIXED),
		uintptr(fd),
		uintptr(offset/pageSize),
	)
	if errno != 0 {
		return 0, errno
	}
	return got, nil
}
