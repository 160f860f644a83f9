// Package dynload is a minimal userspace dynamic loader for 32-bit i386
// ELF shared objects (ET_DYN, EM_386). It maps a position-independent
// shared library into the current process, applies its relocations, and
// lazily binds its PLT against a caller-supplied external symbol
// resolver.
package dynload

import (
	"fmt"
	"os"
)

// VerboseMode gates diagnostic Fprintf output during Load. Off by
// default; cmd/dynload-harness turns it on with -v/--verbose.
var VerboseMode bool

// SymbolResolver looks up an external symbol by name, returning its
// absolute address, or 0 if the name is unknown.
type SymbolResolver func(name string) uintptr

// Handle is the result of a successful Load. It owns the image's
// mappings for the remaining lifetime of the process: there is no
// unload.
type Handle struct {
	image *loadedImage
}

// Load maps path into the current process and fully resolves it: header
// validation, segment mapping, eager relocations, and PLT priming all
// run before Load returns.
func Load(path string, resolver SymbolResolver) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(FileOpenFailed, path, err)
	}

	hdrs, err := validateHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "DEBUG Load: %s header ok, %d PT_LOAD segment(s), dynamic=%v\n",
			path, len(hdrs.loads), hdrs.dynamic != nil)
	}

	img, err := mapSegments(f, hdrs)
	if err != nil {
		f.Close()
		return nil, err
	}
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "DEBUG Load: %s mapped at base 0x%x, span 0x%x\n", path, img.base, img.span)
	}

	if err := f.Close(); err != nil {
		releaseImage(img)
		return nil, newError(IoError, "close", err)
	}

	if hdrs.dynamic == nil {
		releaseImage(img)
		return nil, newError(InvalidRelocation, "image has no PT_DYNAMIC segment", nil)
	}

	info, err := walkDynamic(img, hdrs.dynamic.Vaddr)
	if err != nil {
		releaseImage(img)
		return nil, err
	}

	ctx := &DynContext{
		base:           img.base,
		dynSection:     img.base + uintptr(hdrs.dynamic.Vaddr),
		pltRelocations: info.jmprel,
		symbols:        info.symtab,
		strtab:         info.strtab,
		externResolver: resolver,
		symCount:       info.symCount,
		img:            img,
	}
	img.ctx = ctx

	// GOT[1]/GOT[2] must be primed before any PLT slot is reachable, but
	// installing them doesn't make them reachable by itself: nothing in
	// the image executes until Load returns.
	if info.pltgot != 0 {
		installTrampoline(ctx, info.pltgot)
	}

	if err := applyEagerRelocations(img, ctx, info); err != nil {
		releaseImage(img)
		return nil, err
	}
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "DEBUG Load: %s eager relocations applied (%d bytes of DT_REL)\n", path, info.relsz)
	}
	if err := primePLT(img, ctx, info); err != nil {
		releaseImage(img)
		return nil, err
	}
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "DEBUG Load: %s PLT primed (%d bytes of DT_JMPREL)\n", path, info.pltrelsz)
	}

	if err := tightenPermissions(img); err != nil {
		releaseImage(img)
		return nil, err
	}
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "DEBUG Load: %s ready\n", path)
	}

	return &Handle{image: img}, nil
}

// Base returns the load bias chosen for the image.
func (h *Handle) Base() uintptr { return h.image.base }
