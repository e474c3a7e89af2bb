//go:build !linux

package streamreduce

// fadviseSequential is a no-op; FADV_SEQUENTIAL is Linux-only.
func fadviseSequential(fd int, offset, length int64) {}
