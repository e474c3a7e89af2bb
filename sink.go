package streamreduce

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	streamerrors "github.com/tamirms/streamreduce/errors"
	"github.com/zeebo/xxh3"
)

// sinkBufferSize is the write buffer in front of a sink's file.
const sinkBufferSize = 256 << 10

// lineSink is an append-only line file shared by all workers of a stage.
// Writes are serialized by mu; callers compute their lines without holding
// the lock.
//
// The sink also folds every line into an order-independent digest (sum of
// per-line xxh3 hashes), so two runs that wrote the same multiset of lines
// in different orders produce the same digest.
type lineSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *bufio.Writer
	lines  int64
	digest uint64
}

// createSink creates or truncates path.
func createSink(path string) (*lineSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", streamerrors.ErrIO, path, err)
	}
	return &lineSink{
		path: path,
		file: f,
		w:    bufio.NewWriterSize(f, sinkBufferSize),
	}, nil
}

// writeLine appends line and a newline.
func (s *lineSink) writeLine(line string) error {
	h := xxh3.HashString(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("%w: write to closed sink %s", streamerrors.ErrIO, s.path)
	}
	if _, err := s.w.WriteString(line); err != nil {
		return fmt.Errorf("%w: write %s: %w", streamerrors.ErrIO, s.path, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("%w: write %s: %w", streamerrors.ErrIO, s.path, err)
	}
	s.lines++
	s.digest += h
	return nil
}

// close flushes buffered lines and closes the file. Idempotent.
func (s *lineSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("%w: close %s: %w", streamerrors.ErrIO, s.path, err)
	}
	return nil
}

// stats returns the line count and digest. Only meaningful after all
// writers have finished.
func (s *lineSink) stats() (lines int64, digest uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines, s.digest
}

// LineDigest returns the order-independent digest of a set of lines, as
// reported in Stats.PairDigest and Stats.OutputDigest. Lines are given
// without their trailing newline.
func LineDigest(lines []string) uint64 {
	var d uint64
	for _, l := range lines {
		d += xxh3.HashString(l)
	}
	return d
}
