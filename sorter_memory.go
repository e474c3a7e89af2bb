package streamreduce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/edsrzf/mmap-go"
	streamerrors "github.com/tamirms/streamreduce/errors"
)

// MemorySorter sorts the whole file in memory. The input is mapped
// read-only and its lines are sorted as slices into the mapping; the result
// is written through a writable mapping of a temp file in the same
// directory, which then replaces the unsorted file.
//
// Peak memory is the file size (page cache) plus one slice header per line.
type MemorySorter struct{}

func (s *MemorySorter) Sort(ctx context.Context, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", streamerrors.ErrIO, path, err)
	}
	fi, err := in.Stat()
	if err != nil {
		primaryErr := fmt.Errorf("%w: stat %s: %w", streamerrors.ErrIO, path, err)
		return errors.Join(primaryErr, in.Close())
	}
	if fi.Size() == 0 {
		return in.Close()
	}

	src, err := mmap.Map(in, mmap.RDONLY, 0)
	if err != nil {
		primaryErr := fmt.Errorf("%w: mmap %s: %w", streamerrors.ErrSort, path, err)
		return errors.Join(primaryErr, in.Close())
	}
	ms := &memorySort{in: in, src: src}

	lines := splitLines(src)
	if err := ctx.Err(); err != nil {
		return errors.Join(err, ms.close())
	}
	if src[len(src)-1] == '\n' && slices.IsSortedFunc(lines, bytes.Compare) {
		return ms.close()
	}
	slices.SortFunc(lines, bytes.Compare)
	if err := ctx.Err(); err != nil {
		return errors.Join(err, ms.close())
	}

	var size int64
	for _, l := range lines {
		size += int64(len(l)) + 1
	}
	if err := ms.write(path, lines, size); err != nil {
		return errors.Join(err, ms.close())
	}
	if err := ms.close(); err != nil {
		return errors.Join(fmt.Errorf("%w: close %s: %w", streamerrors.ErrIO, path, err), os.Remove(ms.outPath))
	}

	if err := os.Rename(ms.outPath, path); err != nil {
		primaryErr := fmt.Errorf("%w: replace %s: %w", streamerrors.ErrIO, path, err)
		return errors.Join(primaryErr, os.Remove(ms.outPath))
	}
	return nil
}

// memorySort holds the mappings and files of one MemorySorter.Sort call.
type memorySort struct {
	in  *os.File
	src mmap.MMap

	out     *os.File
	dst     mmap.MMap
	outPath string
	written bool // outPath is complete and must survive close
}

// write renders lines into a new temp file next to path. On success the
// file is complete and closed, and outPath names it.
func (ms *memorySort) write(path string, lines [][]byte, size int64) error {
	out, err := os.CreateTemp(filepath.Dir(path), ".streamreduce-sort-*")
	if err != nil {
		return fmt.Errorf("%w: create sort output: %w", streamerrors.ErrIO, err)
	}
	ms.out = out
	ms.outPath = out.Name()

	// Reserve blocks up front so a full disk fails here instead of as SIGBUS.
	if err := fallocateFile(out, size); err != nil {
		return fmt.Errorf("%w: allocate sort output: %w", streamerrors.ErrIO, err)
	}
	dst, err := mmap.MapRegion(out, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("%w: mmap sort output: %w", streamerrors.ErrSort, err)
	}
	ms.dst = dst
	prefaultRegion(dst)

	off := 0
	for _, l := range lines {
		off += copy(dst[off:], l)
		dst[off] = '\n'
		off++
	}

	if err := ms.dst.Flush(); err != nil {
		return fmt.Errorf("%w: flush sort output: %w", streamerrors.ErrIO, err)
	}
	unmapErr := ms.dst.Unmap()
	ms.dst = nil
	if unmapErr != nil {
		return fmt.Errorf("%w: unmap sort output: %w", streamerrors.ErrIO, unmapErr)
	}
	closeErr := ms.out.Close()
	ms.out = nil
	if closeErr != nil {
		return fmt.Errorf("%w: close sort output: %w", streamerrors.ErrIO, closeErr)
	}
	ms.written = true
	return nil
}

// close releases mappings and files, and removes an unfinished output.
// Idempotent.
func (ms *memorySort) close() error {
	var errs []error
	if ms.dst != nil {
		errs = append(errs, ms.dst.Unmap())
		ms.dst = nil
	}
	if ms.out != nil {
		errs = append(errs, ms.out.Close())
		ms.out = nil
	}
	if ms.outPath != "" && !ms.written {
		if err := os.Remove(ms.outPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
		ms.outPath = ""
	}
	if ms.src != nil {
		errs = append(errs, ms.src.Unmap())
		ms.src = nil
	}
	if ms.in != nil {
		errs = append(errs, ms.in.Close())
		ms.in = nil
	}
	return errors.Join(errs...)
}
