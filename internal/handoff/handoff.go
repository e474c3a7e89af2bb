// Package handoff provides a single-slot mailbox that passes one item at a
// time from a single producer to a pool of consumers.
//
// Buffer is not a queue: Put blocks until the previous item has
// been collected, so at most one item is ever in flight between the producer
// and the pool.
//
// Three facts are tracked independently: whether the slot is occupied,
// whether the producer has finished (Close), and whether the exchange was
// aborted (Abort). A consumer always drains an occupied slot before it
// reports end-of-stream, even if Close raced with the final Put.
package handoff

import (
	"sync"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

// Buffer is a capacity-1 synchronized handoff. The zero value is not usable;
// create one with New.
type Buffer[T any] struct {
	mu       sync.Mutex
	hasItem  *sync.Cond // signalled when the slot becomes occupied or the stream ends
	hasSpace *sync.Cond // signalled when the slot becomes empty or the stream is aborted

	item     T
	occupied bool
	closed   bool
	aborted  bool
	cause    error
}

// New creates an empty Buffer.
func New[T any]() *Buffer[T] {
	b := &Buffer[T]{}
	b.hasItem = sync.NewCond(&b.mu)
	b.hasSpace = sync.NewCond(&b.mu)
	return b
}

// Put blocks until the slot is empty, deposits item and wakes one waiting
// consumer. It returns ErrHandoffClosed after Close, and the abort cause
// after Abort. Put must only be called from a single producer goroutine.
func (b *Buffer[T]) Put(item T) error {
	b.mu.Lock()
	for b.occupied && !b.aborted {
		b.hasSpace.Wait()
	}
	if b.aborted {
		err := b.cause
		b.mu.Unlock()
		return err
	}
	if b.closed {
		b.mu.Unlock()
		return streamerrors.ErrHandoffClosed
	}
	b.item = item
	b.occupied = true
	b.mu.Unlock()
	b.hasItem.Signal()
	return nil
}

// Get blocks until an item is available or the stream has ended. It returns
// the item and true, or the zero value and false once the producer has closed
// the buffer and the slot is empty, or once the buffer was aborted.
func (b *Buffer[T]) Get() (T, bool) {
	var zero T
	b.mu.Lock()
	// Re-check after every wakeup: Cond.Wait may return without the
	// predicate holding, and another consumer may have taken the item.
	for !b.occupied && !b.closed && !b.aborted {
		b.hasItem.Wait()
	}
	if b.aborted || !b.occupied {
		b.mu.Unlock()
		return zero, false
	}
	item := b.item
	b.item = zero
	b.occupied = false
	b.mu.Unlock()
	b.hasSpace.Signal()
	return item, true
}

// Close signals that the producer is done and wakes every blocked consumer.
// An item still in the slot remains deliverable. Close is idempotent.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.hasItem.Broadcast()
}

// Abort stops the exchange: any pending item is discarded, blocked and future
// Put calls return cause, and blocked and future Get calls return false.
// Only the first cause is kept; a nil cause is recorded as ErrHandoffAborted.
func (b *Buffer[T]) Abort(cause error) {
	if cause == nil {
		cause = streamerrors.ErrHandoffAborted
	}
	b.mu.Lock()
	if !b.aborted {
		b.aborted = true
		b.cause = cause
		var zero T
		b.item = zero
		b.occupied = false
	}
	b.mu.Unlock()
	b.hasItem.Broadcast()
	b.hasSpace.Broadcast()
}

// Err returns the abort cause, or nil if the buffer was not aborted.
func (b *Buffer[T]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cause
}
