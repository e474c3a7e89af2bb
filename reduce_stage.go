package streamreduce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

// ReduceFunc folds all values of one key into a single result. It is called
// concurrently from all reduce workers.
type ReduceFunc[K comparable, V, R any] func(key K, values []V) (R, error)

// Group is a decoded key with all of its values.
type Group[K comparable, V any] struct {
	Key    K
	Values []V
}

// ReduceResult summarizes one ReduceStage run.
type ReduceResult struct {
	Groups     int64  // distinct keys read from the store
	Results    int64  // lines written to the output
	Digest     uint64 // order-independent digest of the output lines
	ReduceTime time.Duration
}

// ReduceStage groups a sorted intermediate store by key and reduces each
// group in parallel, writing one result line per key.
//
// Result lines are written in the order workers finish, not in key order.
type ReduceStage[K comparable, V, R any] struct {
	fn     ReduceFunc[K, V, R]
	key    Codec[K]
	value  Codec[V]
	result Codec[R]
	cfg    *config
}

// NewReduceStage creates a reduce stage. Relevant options: WithReducers,
// WithObserver, WithMaxRecordSize.
func NewReduceStage[K comparable, V, R any](fn ReduceFunc[K, V, R], key Codec[K], value Codec[V], result Codec[R], opts ...Option) (*ReduceStage[K, V, R], error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return newReduceStage(fn, key, value, result, cfg)
}

func newReduceStage[K comparable, V, R any](fn ReduceFunc[K, V, R], key Codec[K], value Codec[V], result Codec[R], cfg *config) (*ReduceStage[K, V, R], error) {
	if fn == nil || key == nil || value == nil || result == nil {
		return nil, streamerrors.ErrNilFunc
	}
	return &ReduceStage[K, V, R]{fn: fn, key: key, value: value, result: result, cfg: cfg}, nil
}

// Run reduces the sorted store at storePath into outputPath, which is
// created or truncated. The store is only read.
//
// On failure the output holds whatever was written before the first error
// and must not be relied on.
func (s *ReduceStage[K, V, R]) Run(ctx context.Context, storePath, outputPath string) (ReduceResult, error) {
	var res ReduceResult
	obs := s.cfg.observer

	obs.StageStarted(StageReduce)
	start := time.Now()
	err := s.reduceInto(ctx, storePath, outputPath, &res)
	res.ReduceTime = time.Since(start)
	obs.StageFinished(StageReduce, res.ReduceTime, err)
	return res, err
}

func (s *ReduceStage[K, V, R]) reduceInto(ctx context.Context, storePath, outputPath string, res *ReduceResult) error {
	store, err := os.Open(storePath)
	if err != nil {
		return fmt.Errorf("%w: open intermediate store: %w", streamerrors.ErrIO, err)
	}
	defer store.Close()
	fadviseSequential(int(store.Fd()), 0, 0)

	sink, err := createSink(outputPath)
	if err != nil {
		return err
	}

	var groups int64
	p := &pool[Group[K, V]]{
		stage:    StageReduce,
		workers:  s.cfg.reducers,
		observer: s.cfg.observer,
		sink:     sink,
		produce: func(ctx context.Context, put func(Group[K, V]) error) error {
			g := NewGrouper(store, WithMaxRecordSize(s.cfg.maxRecordSize))
			for g.Next() {
				grp, err := s.decodeGroup(g.Group())
				if err != nil {
					return err
				}
				if err := put(grp); err != nil {
					return err
				}
				groups++
			}
			return g.Err()
		},
		apply:    s.reduceGroup,
		describe: func(grp Group[K, V]) string { return s.key.Encode(grp.Key) },
	}

	runErr := p.run(ctx)
	closeErr := sink.close()

	res.Groups = groups
	res.Results, res.Digest = sink.stats()
	return errors.Join(runErr, closeErr)
}

// decodeGroup converts a raw group to typed values. The values of a group
// occupy consecutive store lines starting at raw.Line.
func (s *ReduceStage[K, V, R]) decodeGroup(raw RawGroup) (Group[K, V], error) {
	key, err := s.key.Decode(raw.Key)
	if err != nil {
		return Group[K, V]{}, &streamerrors.MalformedRecordError{
			Line:   raw.Line,
			Text:   raw.Key + " " + raw.Values[0],
			Reason: fmt.Sprintf("decode key: %v", err),
		}
	}

	values := make([]V, len(raw.Values))
	for i, text := range raw.Values {
		v, err := s.value.Decode(text)
		if err != nil {
			return Group[K, V]{}, &streamerrors.MalformedRecordError{
				Line:   raw.Line + int64(i),
				Text:   raw.Key + " " + text,
				Reason: fmt.Sprintf("decode value: %v", err),
			}
		}
		values[i] = v
	}
	return Group[K, V]{Key: key, Values: values}, nil
}

// reduceGroup applies the reduce function and renders the result.
func (s *ReduceStage[K, V, R]) reduceGroup(grp Group[K, V]) (string, error) {
	r, err := s.fn(grp.Key, grp.Values)
	if err != nil {
		return "", err
	}
	return encodeResult(s.result.Encode(r))
}
