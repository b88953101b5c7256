//go:build linux

package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

// AdviseSequential hints the kernel that f will be read sequentially.
// Best effort: unsupported files (pipes, in-memory fakes) are ignored.
func AdviseSequential(f File) {
	osf, ok := f.(*os.File)
	if !ok {
		return
	}
	_ = unix.Fadvise(int(osf.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
