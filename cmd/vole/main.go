// Command vole is a thin reference driver: it loads a script file, runs it
// in an anonymous module, and reports errors to stderr. It is not part of
// the runtime core and exists only to exercise the embedding API end to
// end.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/volelang/vole"
	"github.com/volelang/vole/moduleloader"
)

func main() {
	var (
		path      = flag.String("script", "", "Path to the script file to run")
		dumpAsm   = flag.Bool("dump-asm", false, "Print the compiled bytecode after running it")
		noColor   = flag.Bool("no-color", false, "Disable ANSI colors in -dump-asm output")
		loadStdIO = flag.Bool("std-io", true, "Bind std:io (print) before running the script")
	)
	flag.Parse()

	if *path == "" {
		if flag.NArg() == 1 {
			*path = flag.Arg(0)
		} else {
			log.Fatal("Script path not informed")
		}
	}

	src, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("Can't read script file: %s", err.Error())
	}

	loader := moduleloader.NewFileLoader(filepath.Dir(*path))

	vm := vole.NewVM(vole.Config{
		Print: func(_ any, s string) { fmt.Print(s) },
		Error: func(_ any, code vole.ErrorCode, message string) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", code, message)
		},
		LoadModule: func(_ any, name string) (string, bool) { return loader.Load(name) },
	})

	if *loadStdIO {
		if err := vm.LoadStandardModules(vole.StdlibIO); err != nil {
			log.Fatalf("Can't load std:io: %s", err.Error())
		}
	}

	mod, err := vm.ExecuteInModule("", src)
	if err != nil {
		os.Exit(1)
	}

	if *dumpAsm {
		if *noColor {
			fmt.Print(vole.Disassemble(mod))
		} else {
			fmt.Print(mod.Init.HighlightPrettyString())
		}
	}
}
