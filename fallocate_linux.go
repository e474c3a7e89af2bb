//go:build linux

package streamreduce

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes for file and sets its length, so writes
// through a mapping cannot hit SIGBUS on a full disk.
func fallocateFile(file *os.File, size int64) error {
	if size == 0 {
		return nil
	}
	if err := unix.Fallocate(int(file.Fd()), 0, 0, size); err != nil {
		// Not supported on every filesystem (tmpfs on old kernels, NFS).
		return unix.Ftruncate(int(file.Fd()), size)
	}
	return unix.Ftruncate(int(file.Fd()), size)
}
