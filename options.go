package streamreduce

import (
	"log/slog"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

const (
	// defaultMaxRecordSize bounds a single input or intermediate line.
	defaultMaxRecordSize = 1 << 20

	// contextCheckInterval is how often long sequential loops (sort merge,
	// run spilling) poll for context cancellation.
	contextCheckInterval = 10000
)

// Option is a functional option shared by Run, NewMapStage and
// NewReduceStage. Options that do not apply to a component are ignored.
type Option func(*config)

type config struct {
	mappers          int
	reducers         int
	sorter           Sorter
	observer         Observer
	logger           *slog.Logger
	tempDir          string
	intermediatePath string
	maxRecordSize    int
}

func defaultConfig() *config {
	return &config{
		mappers:       1,
		reducers:      1,
		observer:      NopObserver{},
		logger:        slog.New(slog.DiscardHandler),
		maxRecordSize: defaultMaxRecordSize,
	}
}

func newConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.mappers < 1 || cfg.reducers < 1 {
		return nil, streamerrors.ErrInvalidWorkerCount
	}
	if cfg.sorter == nil {
		cfg.sorter = &AutoSorter{TempDir: cfg.tempDir}
	}
	if cfg.maxRecordSize <= 0 {
		cfg.maxRecordSize = defaultMaxRecordSize
	}
	return cfg, nil
}

// WithMappers sets the number of parallel map workers. Must be at least 1.
func WithMappers(n int) Option {
	return func(c *config) {
		c.mappers = n
	}
}

// WithReducers sets the number of parallel reduce workers. Must be at least 1.
func WithReducers(n int) Option {
	return func(c *config) {
		c.reducers = n
	}
}

// WithSorter replaces the sorter used to order the intermediate store.
// Default is an AutoSorter spilling to the WithTempDir directory.
func WithSorter(s Sorter) Option {
	return func(c *config) {
		if s != nil {
			c.sorter = s
		}
	}
}

// WithObserver installs an Observer for stage transitions and timings.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the logger used for best-effort cleanup failures that are
// not returned to the caller. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTempDir sets the directory holding the intermediate store when no
// explicit path is given. Default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *config) {
		c.tempDir = dir
	}
}

// WithIntermediatePath pins the intermediate store to an explicit path.
// The file is created, overwritten, and removed by Run.
func WithIntermediatePath(path string) Option {
	return func(c *config) {
		c.intermediatePath = path
	}
}

// WithMaxRecordSize sets the longest accepted input or intermediate line in
// bytes. Default is 1 MiB.
func WithMaxRecordSize(n int) Option {
	return func(c *config) {
		c.maxRecordSize = n
	}
}
