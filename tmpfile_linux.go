//go:build linux

package streamreduce

import (
	"os"

	"golang.org/x/sys/unix"
)

// openTmpFile creates an anonymous file in dir that the kernel deletes on
// close (O_TMPFILE, Linux 3.11+). Fails on filesystems without support.
func openTmpFile(dir string) (*os.File, error) {
	fd, err := unix.Open(dir, unix.O_RDWR|unix.O_TMPFILE|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), ""), nil
}
