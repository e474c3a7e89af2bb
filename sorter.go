package streamreduce

import (
	"bytes"
	"context"
	"fmt"
	"os"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

// Sorter sorts a newline-delimited file in place, ordering whole lines
// byte-wise. The sorted file must end with a newline unless it is empty.
//
// Implementations must honor ctx cancellation and must leave path intact
// (either unsorted or fully sorted) when they fail.
type Sorter interface {
	Sort(ctx context.Context, path string) error
}

// defaultMaxInMemory is the largest store AutoSorter sorts in memory.
const defaultMaxInMemory = 256 << 20

// AutoSorter picks MemorySorter for stores up to MaxInMemory bytes and
// ExternalSorter for anything larger.
type AutoSorter struct {
	MaxInMemory int64  // default 256 MiB
	TempDir     string // run files for the external sort; default os.TempDir()
}

func (s *AutoSorter) Sort(ctx context.Context, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", streamerrors.ErrIO, path, err)
	}

	limit := s.MaxInMemory
	if limit <= 0 {
		limit = defaultMaxInMemory
	}
	if fi.Size() <= limit {
		return (&MemorySorter{}).Sort(ctx, path)
	}
	return (&ExternalSorter{TempDir: s.TempDir}).Sort(ctx, path)
}

// splitLines returns the lines of data without their newlines, as
// subslices of data. A final line without a newline is included.
func splitLines(data []byte) [][]byte {
	lines := make([][]byte, 0, bytes.Count(data, []byte{'\n'})+1)
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, data)
			break
		}
		lines = append(lines, data[:i])
		data = data[i+1:]
	}
	return lines
}
