// Package moduleloader provides an optional, host-side ModuleLoadFn backed
// by a memory-mapped file read, for the common embedding case of a script
// importing another file on disk. File I/O stays out of the runtime core;
// this package lives outside the root vole package for exactly that
// reason.
package moduleloader

import (
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// FileLoader resolves a module name to a file under Root (module "foo/bar"
// becomes Root/foo/bar.vole), reading it via mmap rather than os.ReadFile
// so a host embedding many large scripts doesn't pay a full read+copy per
// import.
type FileLoader struct {
	Root string
	Ext  string // defaults to ".vole"
}

// NewFileLoader returns a loader rooted at dir, using the ".vole" file
// extension.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Root: dir, Ext: ".vole"}
}

// Load implements the shape of vole.ModuleLoadFn: (userData, name) ->
// (source, ok). It is suitable to pass directly as Config.LoadModule via a
// small closure, e.g. `cfg.LoadModule = func(u any, n string) (string, bool)
// { return loader.Load(n) }`.
func (l *FileLoader) Load(name string) (string, bool) {
	ext := l.Ext
	if ext == "" {
		ext = ".vole"
	}
	path := filepath.Join(l.Root, filepath.FromSlash(name)+ext)

	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false
	}
	if info.Size() == 0 {
		return "", true
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return "", false
	}
	defer m.Unmap()

	// Copy out of the mapping before returning: the mapping is unmapped
	// when this function returns, and the compiler retains the source
	// bytes (as string literals and error messages) past that point.
	src := make([]byte, len(m))
	copy(src, m)
	return string(src), true
}
