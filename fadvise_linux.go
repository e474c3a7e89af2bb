//go:build linux

package streamreduce

import "golang.org/x/sys/unix"

// fadviseSequential hints that fd will be read front to back. Used on the
// input, the intermediate store and sort runs. Errors are ignored.
func fadviseSequential(fd int, offset, length int64) {
	_ = unix.Fadvise(fd, offset, length, unix.FADV_SEQUENTIAL)
}
