package streamreduce

import (
	"context"
	"fmt"

	streamerrors "github.com/tamirms/streamreduce/errors"
	"github.com/tamirms/streamreduce/internal/handoff"
	"golang.org/x/sync/errgroup"
)

// pool runs one stage: a single producer feeding a fixed set of identical
// workers through a handoff buffer, each worker appending its output line to
// a shared sink. The map and reduce stages differ only in what they produce
// and apply.
type pool[T any] struct {
	stage    Stage
	workers  int
	observer Observer
	sink     *lineSink

	// produce feeds items to put in read order. It must stop and return
	// put's error as soon as put fails.
	produce func(ctx context.Context, put func(T) error) error

	// apply converts one item into an output line. Errors and panics are
	// reported as a WorkerFault.
	apply func(item T) (string, error)

	// describe renders an item for error reports.
	describe func(item T) string
}

// run starts the producer and workers and waits for all of them.
//
// Error handling flow:
//   - The first error from the producer or any worker cancels the group
//     context, which aborts the handoff buffer.
//   - Abort wakes a producer blocked in Put and every worker blocked in Get,
//     so no goroutine outlives run.
//   - errgroup keeps the first error; the abort cause seen by the others is
//     discarded.
func (p *pool[T]) run(ctx context.Context) error {
	buf := handoff.New[T]()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		buf.Abort(context.Cause(gctx))
	})
	defer stop()

	g.Go(func() error {
		put := func(item T) error {
			var err error
			timeOp(p.observer, p.stage, OpPut, func() { err = buf.Put(item) })
			return err
		}
		if err := p.produce(gctx, put); err != nil {
			return err
		}
		buf.Close()
		return nil
	})

	for w := range p.workers {
		g.Go(func() error {
			return p.work(w, buf)
		})
	}

	return g.Wait()
}

// work is the worker loop: get, apply without locks, write under the sink
// lock, until end-of-stream.
func (p *pool[T]) work(worker int, buf *handoff.Buffer[T]) error {
	for {
		var (
			item T
			ok   bool
		)
		timeOp(p.observer, p.stage, OpGet, func() { item, ok = buf.Get() })
		if !ok {
			// nil on normal end-of-stream, the abort cause otherwise.
			return buf.Err()
		}

		var (
			line string
			err  error
		)
		timeOp(p.observer, p.stage, OpApply, func() { line, err = p.safeApply(item) })
		if err != nil {
			return &streamerrors.WorkerFault{
				Stage:  p.stage.String(),
				Worker: worker,
				Item:   p.describe(item),
				Err:    err,
			}
		}

		timeOp(p.observer, p.stage, OpWrite, func() { err = p.sink.writeLine(line) })
		if err != nil {
			return err
		}
	}
}

// safeApply calls apply, converting a panic into an error.
func (p *pool[T]) safeApply(item T) (line string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.apply(item)
}
