package dynload

import (
	"debug/elf"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// segmentRecord describes one mapped PT_LOAD region: its address range
// and the permissions it should carry once relocation is done.
type segmentRecord struct {
	addr      uintptr
	size      uintptr
	finalProt Prot
}

// loadedImage is a fully mapped shared object: its load base, the span
// reserved for it, and the individual segments within that span. ctx is
// filled in by Load once the dynamic section has been walked; it is nil
// for the brief window between mapSegments returning and walkDynamic
// running.
type loadedImage struct {
	base     uintptr
	span     uintptr
	segments []segmentRecord
	ctx      *DynContext
}

// mapSegments reserves the image's full virtual span, then maps each
// PT_LOAD segment into it RW, zero-filling and overlaying BSS tails. Any
// failure tears down everything reserved so far before returning.
func mapSegments(f *os.File, hdrs *imageHeaders) (*loadedImage, error) {
	last := hdrs.loads[len(hdrs.loads)-1]
	span := roundUp(uintptr(last.Vaddr)+uintptr(last.Memsz), pageSize)

	base, err := reserveSpan(span)
	if err != nil {
		return nil, err
	}
	img := &loadedImage{base: base, span: span}

	var prevEnd uintptr
	for _, ph := range hdrs.loads {
		segStart := roundDown(uintptr(ph.Vaddr), pageSize)
		segEnd := roundUp(uintptr(ph.Vaddr)+uintptr(ph.Memsz), pageSize)

		if segStart < prevEnd {
			releaseImage(img)
			return nil, newError(InvalidImage, "overlapping PT_LOAD segments", nil)
		}
		prevEnd = segEnd

		fileOff := int64(roundDown(uintptr(ph.Offset), pageSize))
		length := segEnd - segStart

		got, err := mmapFixed(base+segStart, length,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE, int(f.Fd()), fileOff)
		if err != nil {
			releaseImage(img)
			return nil, newError(MappingFailed, "mmap PT_LOAD segment", err)
		}
		if got != base+segStart {
			releaseImage(img)
			return nil, newError(InvalidImage, "segment mapped at wrong address", nil)
		}

		if uintptr(ph.Memsz) > uintptr(ph.Filesz) {
			if ph.Flags&uint32(elf.PF_W) == 0 {
				releaseImage(img)
				return nil, newError(InvalidImage, "bss in non-writable segment", nil)
			}
			bssStart := uintptr(ph.Vaddr) + uintptr(ph.Filesz)
			bssPageEnd := roundUp(bssStart, pageSize)

			tail := unsafe.Slice((*byte)(unsafe.Pointer(base+bssStart)), bssPageEnd-bssStart)
			for i := range tail {
				tail[i] = 0
			}

			if bssPageEnd < segEnd {
				prot := elfFlagsToProt(ph.Flags).toUnix() | unix.PROT_WRITE
				if _, err := mmapFixed(base+bssPageEnd, segEnd-bssPageEnd,
					prot, unix.MAP_PRIVATE|unix.MAP_ANON, -1, 0); err != nil {
					releaseImage(img)
					return nil, newError(MappingFailed, "mmap bss overlay", err)
				}
			}
		}

		img.segments = append(img.segments, segmentRecord{
			addr:      base + segStart,
			size:      length,
			finalProt: elfFlagsToProt(ph.Flags),
		})
	}

	return img, nil
}

// withinMappedSegment reports whether addr lies inside some segment of
// img, the bounds check every relocation write must pass.
func withinMappedSegment(img *loadedImage, addr uintptr) bool {
	for _, seg := range img.segments {
		if addr >= seg.addr && addr < seg.addr+seg.size {
			return true
		}
	}
	return false
}

// releaseImage tears down every mapping owned by img. Safe to call on a
// partially constructed image.
func releaseImage(img *loadedImage) {
	if img == nil || img.base == 0 {
		return
	}
	_ = munmapSpan(img.base, img.span)
}

// tightenPermissions downgrades each segment from the RW mapping used
// during relocation to its declared final_prot, now that relocations
// are complete.
func tightenPermissions(img *loadedImage) error {
	for _, seg := range img.segments {
		if err := mprotectRange(seg.addr, seg.size, seg.finalProt.toUnix()); err != nil {
			return newError(MappingFailed, "tighten segment permissions", err)
		}
	}
	return nil
}
