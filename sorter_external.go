package streamreduce

import (
	"bufio"
	"bytes"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
	streamerrors "github.com/tamirms/streamreduce/errors"
)

// defaultRunBytes is the in-memory budget for one sorted run.
const defaultRunBytes = 64 << 20

// runBufferSize is the read and write buffer of each run file.
const runBufferSize = 256 << 10

// ExternalSorter sorts files larger than memory. The input is read in
// chunks of about RunBytes, each chunk is sorted and spilled to an anonymous
// run file, and the runs are merged into a temp file that replaces the
// unsorted file.
//
// Every run is checksummed with xxhash while it is written and verified
// while it is merged, so a run damaged on disk fails with ErrCorruptRun
// instead of producing a silently wrong store.
type ExternalSorter struct {
	RunBytes int    // default 64 MiB
	TempDir  string // run files; default os.TempDir()
}

func (s *ExternalSorter) Sort(ctx context.Context, path string) error {
	runBytes := s.RunBytes
	if runBytes <= 0 {
		runBytes = defaultRunBytes
	}
	tempDir := s.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", streamerrors.ErrIO, path, err)
	}
	fadviseSequential(int(in.Fd()), 0, 0)

	runs, err := spillRuns(ctx, in, runBytes, tempDir)
	closeErr := in.Close()
	if err != nil {
		return errors.Join(err, closeRuns(runs))
	}
	if closeErr != nil {
		primaryErr := fmt.Errorf("%w: close %s: %w", streamerrors.ErrIO, path, closeErr)
		return errors.Join(primaryErr, closeRuns(runs))
	}
	if len(runs) == 0 {
		return nil
	}

	err = mergeRuns(ctx, runs, path)
	return errors.Join(err, closeRuns(runs))
}

// sortRun is one sorted, spilled chunk of the input.
type sortRun struct {
	file  *os.File
	path  string // empty for O_TMPFILE runs, which vanish on close
	index int
	lines int64  // lines spilled
	sum   uint64 // xxhash of the run's bytes
	read  int64  // lines merged so far

	r    *bufio.Reader
	h    *xxhash.Digest
	line []byte // current line without its newline
}

// spillRuns reads r to the end, spilling a sorted run every runBytes.
func spillRuns(ctx context.Context, r io.Reader, runBytes int, tempDir string) ([]*sortRun, error) {
	var (
		runs  []*sortRun
		lines [][]byte
		size  int
		read  int64
	)
	br := bufio.NewReaderSize(r, runBufferSize)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lines = append(lines, bytes.TrimSuffix(line, []byte{'\n'}))
			size += len(line)
			read++
			if read%contextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return runs, err
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return runs, fmt.Errorf("%w: read sort input: %w", streamerrors.ErrIO, err)
		}
		if size >= runBytes {
			run, err := spillRun(lines, len(runs), tempDir)
			if run != nil {
				runs = append(runs, run)
			}
			if err != nil {
				return runs, err
			}
			lines, size = nil, 0
		}
	}
	if len(lines) > 0 {
		run, err := spillRun(lines, len(runs), tempDir)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// spillRun sorts lines and writes them to a new run file, rewound for
// reading. A non-nil run is returned whenever a file was created, so the
// caller can release it on error.
func spillRun(lines [][]byte, index int, tempDir string) (*sortRun, error) {
	slices.SortFunc(lines, bytes.Compare)

	f, path, err := createRunFile(tempDir)
	if err != nil {
		return nil, fmt.Errorf("%w: create sort run: %w", streamerrors.ErrIO, err)
	}
	run := &sortRun{file: f, path: path, index: index, lines: int64(len(lines))}

	h := xxhash.New()
	w := bufio.NewWriterSize(io.MultiWriter(f, h), runBufferSize)
	for _, l := range lines {
		if _, err := w.Write(l); err != nil {
			return run, fmt.Errorf("%w: write sort run: %w", streamerrors.ErrIO, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return run, fmt.Errorf("%w: write sort run: %w", streamerrors.ErrIO, err)
		}
	}
	if err := w.Flush(); err != nil {
		return run, fmt.Errorf("%w: write sort run: %w", streamerrors.ErrIO, err)
	}
	run.sum = h.Sum64()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return run, fmt.Errorf("%w: rewind sort run: %w", streamerrors.ErrIO, err)
	}
	fadviseSequential(int(f.Fd()), 0, 0)
	run.r = bufio.NewReaderSize(f, runBufferSize)
	run.h = xxhash.New()
	return run, nil
}

// next advances to the run's next line. It returns false at the end of the
// run, after verifying the checksum.
func (r *sortRun) next() (bool, error) {
	line, err := r.r.ReadBytes('\n')
	if err == io.EOF {
		if len(line) > 0 {
			return false, fmt.Errorf("%w: run %d ends without a newline", streamerrors.ErrCorruptRun, r.index)
		}
		if r.read != r.lines {
			return false, fmt.Errorf("%w: run %d has %d lines, want %d", streamerrors.ErrCorruptRun, r.index, r.read, r.lines)
		}
		if got := r.h.Sum64(); got != r.sum {
			return false, fmt.Errorf("%w: run %d checksum %016x, want %016x", streamerrors.ErrCorruptRun, r.index, got, r.sum)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read sort run %d: %w", streamerrors.ErrIO, r.index, err)
	}
	_, _ = r.h.Write(line)
	r.read++
	r.line = line[:len(line)-1]
	return true, nil
}

// mergeRuns k-way merges runs into a temp file that replaces path.
func mergeRuns(ctx context.Context, runs []*sortRun, path string) error {
	out, err := os.CreateTemp(filepath.Dir(path), ".streamreduce-merge-*")
	if err != nil {
		return fmt.Errorf("%w: create merge output: %w", streamerrors.ErrIO, err)
	}
	outPath := out.Name()
	fail := func(primaryErr error) error {
		return errors.Join(primaryErr, out.Close(), os.Remove(outPath))
	}

	h := make(runHeap, 0, len(runs))
	for _, r := range runs {
		ok, err := r.next()
		if err != nil {
			return fail(err)
		}
		if ok {
			h = append(h, r)
		}
	}
	heap.Init(&h)

	w := bufio.NewWriterSize(out, runBufferSize)
	var written int64
	for h.Len() > 0 {
		r := h[0]
		if _, err := w.Write(r.line); err != nil {
			return fail(fmt.Errorf("%w: write merge output: %w", streamerrors.ErrIO, err))
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail(fmt.Errorf("%w: write merge output: %w", streamerrors.ErrIO, err))
		}
		written++
		if written%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
		}

		ok, err := r.next()
		if err != nil {
			return fail(err)
		}
		if ok {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}

	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("%w: flush merge output: %w", streamerrors.ErrIO, err))
	}
	if err := out.Close(); err != nil {
		primaryErr := fmt.Errorf("%w: close merge output: %w", streamerrors.ErrIO, err)
		return errors.Join(primaryErr, os.Remove(outPath))
	}
	if err := os.Rename(outPath, path); err != nil {
		primaryErr := fmt.Errorf("%w: replace %s: %w", streamerrors.ErrIO, path, err)
		return errors.Join(primaryErr, os.Remove(outPath))
	}
	return nil
}

// closeRuns closes every run file and removes the named ones.
func closeRuns(runs []*sortRun) error {
	var errs []error
	for _, r := range runs {
		if r.file != nil {
			if err := r.file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close sort run %d: %w", r.index, err))
			}
			r.file = nil
		}
		if r.path != "" {
			if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("remove sort run %d: %w", r.index, err))
			}
			r.path = ""
		}
	}
	return errors.Join(errs...)
}

// createRunFile creates a temp file for a sort run. It tries an anonymous
// O_TMPFILE file first, which the kernel deletes on close, and falls back to
// a named temp file whose path is returned for removal.
func createRunFile(tempDir string) (*os.File, string, error) {
	f, err := openTmpFile(tempDir)
	if err == nil {
		return f, "", nil
	}
	f, err = os.CreateTemp(tempDir, "streamreduce-run-*.tmp")
	if err != nil {
		return nil, "", err
	}
	return f, f.Name(), nil
}

// runHeap orders runs by current line, then by run index so that equal
// lines keep a deterministic order.
type runHeap []*sortRun

func (h runHeap) Len() int { return len(h) }
func (h runHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].line, h[j].line); c != 0 {
		return c < 0
	}
	return h[i].index < h[j].index
}
func (h runHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *runHeap) Push(x any) { *h = append(*h, x.(*sortRun)) }
func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
