// Command dynload-harness is a thin CLI collaborator for manual testing
// of package dynload: it wires flag parsing to the public API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/dynload"
)

func main() {
	symName := flag.String("sym", "", "symbol name to resolve and print the address of")
	verbose := flag.Bool("v", false, "verbose mode (show load-stage diagnostics)")
	verboseLong := flag.Bool("verbose", false, "verbose mode (show load-stage diagnostics)")
	flag.Parse()

	dynload.VerboseMode = *verbose || *verboseLong

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dynload-harness [-v] [-sym name] <path-to-shared-object>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	handle, err := dynload.Load(path, externResolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("loaded %s at base 0x%x\n", path, handle.Base())

	if *symName != "" {
		addr := handle.GetSymbol(*symName)
		if addr == 0 {
			fmt.Fprintf(os.Stderr, "symbol %q not found\n", *symName)
			os.Exit(1)
		}
		fmt.Printf("%s = 0x%x\n", *symName, addr)
	}
}

// externResolver is a minimal stand-in external resolver: the harness has
// no host symbol table to offer, so every lookup fails and symbols must
// be satisfied from the image itself.
func externResolver(name string) uintptr {
	return 0
}
