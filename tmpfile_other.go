//go:build !linux

package streamreduce

import (
	"errors"
	"os"
)

// openTmpFile is unsupported off Linux; callers fall back to os.CreateTemp.
func openTmpFile(dir string) (*os.File, error) {
	return nil, errors.ErrUnsupported
}
