package streamreduce

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	streamerrors "github.com/tamirms/streamreduce/errors"
)

// Job bundles the user functions and codecs of one map/reduce computation.
type Job[K comparable, V, R any] struct {
	Map    MapFunc[K, V]
	Reduce ReduceFunc[K, V, R]
	Key    Codec[K]
	Value  Codec[V]
	Result Codec[R]
}

// Stats reports what a successful Run did.
type Stats struct {
	RunID   string
	Records int64 // input records
	Pairs   int64 // intermediate pairs
	Groups  int64 // distinct keys
	Results int64 // output lines

	MapTime    time.Duration
	SortTime   time.Duration
	ReduceTime time.Duration

	// Order-independent digests (see LineDigest). Equal inputs give equal
	// digests regardless of worker counts.
	PairDigest   uint64
	OutputDigest uint64
}

// Run executes job over the records of inputPath and writes one result line
// per distinct key to outputPath.
//
// The map stage, including the sort of the intermediate store, completes
// before the reduce stage starts. The intermediate store is removed when Run
// returns, on success or failure. On failure the first error is returned and
// the contents of outputPath are undefined.
//
// Errors can be classified with errors.Is against ErrIO, ErrSort,
// ErrMalformedRecord and ErrWorkerFault from the errors package.
func Run[K comparable, V, R any](ctx context.Context, inputPath, outputPath string, job Job[K, V, R], opts ...Option) (*Stats, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	mapStage, err := newMapStage(job.Map, job.Key, job.Value, cfg)
	if err != nil {
		return nil, err
	}
	reduceStage, err := newReduceStage(job.Reduce, job.Key, job.Value, job.Result, cfg)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	storePath := cfg.storePath(runID)
	if err := checkPaths(inputPath, outputPath, storePath); err != nil {
		return nil, err
	}

	logger := cfg.logger.With("run", runID)
	obs := cfg.observer
	obs.StageStarted(StagePipeline)
	start := time.Now()

	stats, err := runStages(ctx, mapStage, reduceStage, inputPath, outputPath, storePath)
	if err != nil {
		// Best effort: the run error wins.
		if rmErr := os.Remove(storePath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("remove intermediate store", "path", storePath, "error", rmErr)
		}
		obs.StageFinished(StagePipeline, time.Since(start), err)
		return nil, err
	}

	if err := os.Remove(storePath); err != nil && !os.IsNotExist(err) {
		err = fmt.Errorf("%w: remove intermediate store: %w", streamerrors.ErrIO, err)
		obs.StageFinished(StagePipeline, time.Since(start), err)
		return nil, err
	}
	stats.RunID = runID
	obs.StageFinished(StagePipeline, time.Since(start), nil)
	logger.Debug("run complete", "records", stats.Records, "groups", stats.Groups)
	return stats, nil
}

// runStages runs map then reduce with a strict barrier between them.
func runStages[K comparable, V, R any](ctx context.Context, m *MapStage[K, V], r *ReduceStage[K, V, R], inputPath, outputPath, storePath string) (*Stats, error) {
	mres, err := m.Run(ctx, inputPath, storePath)
	if err != nil {
		return nil, err
	}
	rres, err := r.Run(ctx, storePath, outputPath)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Records:      mres.Records,
		Pairs:        mres.Pairs,
		Groups:       rres.Groups,
		Results:      rres.Results,
		MapTime:      mres.MapTime,
		SortTime:     mres.SortTime,
		ReduceTime:   rres.ReduceTime,
		PairDigest:   mres.Digest,
		OutputDigest: rres.Digest,
	}, nil
}

// storePath returns the intermediate store location for a run.
func (c *config) storePath(runID string) string {
	if c.intermediatePath != "" {
		return c.intermediatePath
	}
	dir := c.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "streamreduce-"+runID+".map")
}

// checkPaths rejects path combinations that would clobber data: the store
// landing on the input or output, or output overwriting input. Paths are
// compared by name and, when both exist, by file identity, so symlinks and
// hard links are caught.
func checkPaths(inputPath, outputPath, storePath string) error {
	paths := [3]string{inputPath, outputPath, storePath}
	var (
		abs   [3]string
		infos [3]os.FileInfo
	)
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("%w: resolve %s: %w", streamerrors.ErrIO, p, err)
		}
		abs[i] = a
		if fi, err := os.Stat(p); err == nil {
			infos[i] = fi
		}
	}
	same := func(i, j int) bool {
		if abs[i] == abs[j] {
			return true
		}
		return infos[i] != nil && infos[j] != nil && os.SameFile(infos[i], infos[j])
	}
	switch {
	case same(2, 0):
		return fmt.Errorf("%w: intermediate store is the input %s", streamerrors.ErrPathConflict, inputPath)
	case same(2, 1):
		return fmt.Errorf("%w: intermediate store is the output %s", streamerrors.ErrPathConflict, outputPath)
	case same(0, 1):
		return fmt.Errorf("%w: input and output are both %s", streamerrors.ErrPathConflict, inputPath)
	}
	return nil
}
