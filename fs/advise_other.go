//go:build !linux

package fs

// AdviseSequential is a no-op on platforms without fadvise.
func AdviseSequential(File) {}
