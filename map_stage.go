package streamreduce

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

// scanBufferSize is the initial scanner buffer; it grows up to the configured
// max record size.
const scanBufferSize = 64 << 10

// maxItemText bounds the record text carried by a map WorkerFault.
const maxItemText = 128

// newLineScanner returns a line scanner that fails with bufio.ErrTooLong on
// lines longer than maxRecord bytes. Lines are split at '\n' only; a '\r'
// before it stays part of the line.
func newLineScanner(r io.Reader, maxRecord int) *bufio.Scanner {
	if maxRecord <= 0 {
		maxRecord = defaultMaxRecordSize
	}
	sc := bufio.NewScanner(r)
	// The scanner's limit is the larger of cap(buf) and max.
	sc.Buffer(make([]byte, 0, min(scanBufferSize, maxRecord)), maxRecord)
	sc.Split(scanRawLines)
	return sc
}

// scanRawLines is bufio.ScanLines without the carriage-return stripping.
func scanRawLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// truncateItem shortens s to at most n bytes without splitting a rune,
// marking the cut with "...".
func truncateItem(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// MapFunc maps one input record (a line without its newline) to a key/value
// pair. It is called concurrently from all map workers and must not rely on
// shared mutable state.
type MapFunc[K comparable, V any] func(record string) (K, V, error)

// MapResult summarizes one MapStage run.
type MapResult struct {
	Records  int64         // input records read
	Pairs    int64         // pairs written to the intermediate store
	Digest   uint64        // order-independent digest of the pair lines
	MapTime  time.Duration // producer + workers, excluding the sort
	SortTime time.Duration
}

// MapStage reads input records, maps them in parallel, writes the pairs to
// an intermediate store and sorts the store by key.
//
// A MapStage holds no per-run state and may be run repeatedly, but not
// concurrently on the same store path.
type MapStage[K comparable, V any] struct {
	fn    MapFunc[K, V]
	key   Codec[K]
	value Codec[V]
	cfg   *config
}

// NewMapStage creates a map stage. Relevant options: WithMappers,
// WithSorter, WithObserver, WithMaxRecordSize.
func NewMapStage[K comparable, V any](fn MapFunc[K, V], key Codec[K], value Codec[V], opts ...Option) (*MapStage[K, V], error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return newMapStage(fn, key, value, cfg)
}

func newMapStage[K comparable, V any](fn MapFunc[K, V], key Codec[K], value Codec[V], cfg *config) (*MapStage[K, V], error) {
	if fn == nil || key == nil || value == nil {
		return nil, streamerrors.ErrNilFunc
	}
	return &MapStage[K, V]{fn: fn, key: key, value: value, cfg: cfg}, nil
}

// Run maps the records of the file at inputPath into storePath, which is
// created or truncated, then sorts storePath in place.
//
// On failure storePath is left as is; the caller owns its removal.
func (s *MapStage[K, V]) Run(ctx context.Context, inputPath, storePath string) (MapResult, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return MapResult{}, fmt.Errorf("%w: open input: %w", streamerrors.ErrIO, err)
	}
	defer in.Close()
	fadviseSequential(int(in.Fd()), 0, 0)

	return s.RunReader(ctx, in, storePath)
}

// RunReader is Run over an arbitrary record stream.
func (s *MapStage[K, V]) RunReader(ctx context.Context, input io.Reader, storePath string) (MapResult, error) {
	var res MapResult
	obs := s.cfg.observer

	obs.StageStarted(StageMap)
	start := time.Now()
	err := s.mapInto(ctx, input, storePath, &res)
	res.MapTime = time.Since(start)
	obs.StageFinished(StageMap, res.MapTime, err)
	if err != nil {
		return res, err
	}

	obs.StageStarted(StageSort)
	start = time.Now()
	err = s.cfg.sorter.Sort(ctx, storePath)
	// Cancellation is reported as itself, not as a sort failure.
	if err != nil && !errors.Is(err, streamerrors.ErrSort) && !canceledBy(ctx, err) {
		err = fmt.Errorf("%w: %w", streamerrors.ErrSort, err)
	}
	res.SortTime = time.Since(start)
	obs.StageFinished(StageSort, res.SortTime, err)
	return res, err
}

// mapInto runs the producer and map workers and closes the store.
func (s *MapStage[K, V]) mapInto(ctx context.Context, input io.Reader, storePath string, res *MapResult) error {
	sink, err := createSink(storePath)
	if err != nil {
		return err
	}

	var records int64
	p := &pool[string]{
		stage:    StageMap,
		workers:  s.cfg.mappers,
		observer: s.cfg.observer,
		sink:     sink,
		produce: func(ctx context.Context, put func(string) error) error {
			sc := newLineScanner(input, s.cfg.maxRecordSize)
			for sc.Scan() {
				if err := put(sc.Text()); err != nil {
					return err
				}
				records++
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("%w: read input record %d: %w", streamerrors.ErrIO, records+1, err)
			}
			return nil
		},
		apply:    s.mapRecord,
		describe: func(record string) string { return truncateItem(record, maxItemText) },
	}

	runErr := p.run(ctx)
	closeErr := sink.close()

	// errgroup.Wait orders the producer's writes to records before this read.
	res.Records = records
	res.Pairs, res.Digest = sink.stats()
	return errors.Join(runErr, closeErr)
}

// mapRecord applies the map function and renders the pair.
func (s *MapStage[K, V]) mapRecord(record string) (string, error) {
	k, v, err := s.fn(record)
	if err != nil {
		return "", err
	}
	return encodePair(s.key.Encode(k), s.value.Encode(v))
}

// canceledBy reports whether err is ctx's cancellation.
func canceledBy(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() != nil && errors.Is(err, context.Cause(ctx))
}
