package streamreduce

import (
	"fmt"
	"log/slog"
	"time"
)

// Stage identifies a phase of a pipeline run.
type Stage uint8

const (
	StageMap Stage = iota
	StageSort
	StageReduce
	StagePipeline
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageMap:
		return "map"
	case StageSort:
		return "sort"
	case StageReduce:
		return "reduce"
	case StagePipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// Op identifies a timed per-item operation inside a stage.
type Op uint8

const (
	OpPut   Op = iota // producer deposits an item into the handoff buffer
	OpGet             // worker collects an item from the handoff buffer
	OpApply           // worker applies the map or reduce function
	OpWrite           // worker appends a line to the shared sink
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	case OpApply:
		return "apply"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Observer receives diagnostic events from a run. Implementations must be
// safe for concurrent use: OpTimed is called from every worker.
//
// Observers are purely diagnostic and cannot influence results.
type Observer interface {
	StageStarted(stage Stage)
	StageFinished(stage Stage, elapsed time.Duration, err error)

	// TimingEnabled gates per-operation timing so that quiet runs do not
	// pay for clock reads on every item.
	TimingEnabled() bool
	OpTimed(stage Stage, op Op, elapsed time.Duration)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StageStarted(Stage) {}
func (NopObserver) StageFinished(Stage, time.Duration, error) {}
func (NopObserver) TimingEnabled() bool { return false }
func (NopObserver) OpTimed(Stage, Op, time.Duration) {}

// Verbosity selects how much a LogObserver reports.
type Verbosity uint8

const (
	VerbosityQuiet   Verbosity = iota // nothing
	VerbosityVerbose                  // stage transitions
	VerbosityTimed                    // stage transitions and per-operation timings
)

// String returns the verbosity name.
func (v Verbosity) String() string {
	switch v {
	case VerbosityQuiet:
		return "quiet"
	case VerbosityVerbose:
		return "verbose"
	case VerbosityTimed:
		return "timed"
	default:
		return "unknown"
	}
}

// ParseVerbosity parses "quiet", "verbose" or "timed".
func ParseVerbosity(s string) (Verbosity, error) {
	switch s {
	case "quiet":
		return VerbosityQuiet, nil
	case "verbose":
		return VerbosityVerbose, nil
	case "timed":
		return VerbosityTimed, nil
	default:
		return 0, fmt.Errorf("unknown verbosity %q (use quiet, verbose or timed)", s)
	}
}

// LogObserver reports events through a structured logger.
type LogObserver struct {
	logger    *slog.Logger
	verbosity Verbosity
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger, verbosity Verbosity) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, verbosity: verbosity}
}

func (o *LogObserver) StageStarted(stage Stage) {
	if o.verbosity < VerbosityVerbose {
		return
	}
	o.logger.Info("stage started", "stage", stage.String())
}

func (o *LogObserver) StageFinished(stage Stage, elapsed time.Duration, err error) {
	if o.verbosity < VerbosityVerbose {
		return
	}
	if err != nil {
		o.logger.Error("stage failed", "stage", stage.String(), "elapsed", elapsed, "error", err)
		return
	}
	if o.verbosity >= VerbosityTimed {
		o.logger.Info("stage finished", "stage", stage.String(), "elapsed", elapsed)
		return
	}
	o.logger.Info("stage finished", "stage", stage.String())
}

func (o *LogObserver) TimingEnabled() bool {
	return o.verbosity >= VerbosityTimed
}

func (o *LogObserver) OpTimed(stage Stage, op Op, elapsed time.Duration) {
	o.logger.Info("operation timed", "stage", stage.String(), "op", op.String(), "elapsed_us", elapsed.Microseconds())
}

// timeOp runs fn and reports its duration when timing is enabled.
func timeOp(o Observer, stage Stage, op Op, fn func()) {
	if !o.TimingEnabled() {
		fn()
		return
	}
	start := time.Now()
	fn()
	o.OpTimed(stage, op, time.Since(start))
}
