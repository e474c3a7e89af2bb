package streamreduce

import (
	"bufio"
	"fmt"
	"io"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

// RawGroup is a key and all of its values, as text, in store order.
type RawGroup struct {
	Key    string
	Values []string
	Line   int64 // store line number of the group's first record
}

// Grouper turns a stream of "<key> <value>" lines sorted by key into one
// RawGroup per distinct key by merging adjacent equal keys.
//
// Grouper is a single forward pass: it holds only the group under
// construction and never re-sorts. It relies on the sort having made equal
// keys contiguous, and reports ErrUnsortedInput if a key sorts below its
// predecessor.
//
// Usage:
//
//	g := NewGrouper(r)
//	for g.Next() {
//	    grp := g.Group()
//	    ...
//	}
//	if err := g.Err(); err != nil { ... }
type Grouper struct {
	sc   *bufio.Scanner
	line int64

	cur      RawGroup // last group returned by Next
	building RawGroup // group under construction
	started  bool     // building holds at least one record
	done     bool
	err      error
}

// NewGrouper creates a Grouper over r. WithMaxRecordSize bounds line length;
// other options are ignored.
func NewGrouper(r io.Reader, opts ...Option) *Grouper {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Grouper{sc: newLineScanner(r, cfg.maxRecordSize)}
}

// Next advances to the next complete group. It returns false at the end of
// the stream or on error; check Err afterwards.
func (g *Grouper) Next() bool {
	if g.done || g.err != nil {
		return false
	}

	for g.sc.Scan() {
		g.line++
		text := g.sc.Text()
		key, value, reason := decodePair(text)
		if reason != "" {
			g.err = &streamerrors.MalformedRecordError{Line: g.line, Text: text, Reason: reason}
			return false
		}

		if !g.started {
			g.building = RawGroup{Key: key, Values: []string{value}, Line: g.line}
			g.started = true
			continue
		}
		if key == g.building.Key {
			g.building.Values = append(g.building.Values, value)
			continue
		}
		if key < g.building.Key {
			g.err = fmt.Errorf("%w: key %q at line %d follows %q", streamerrors.ErrUnsortedInput, key, g.line, g.building.Key)
			return false
		}

		g.cur = g.building
		g.building = RawGroup{Key: key, Values: []string{value}, Line: g.line}
		return true
	}

	if err := g.sc.Err(); err != nil {
		g.err = fmt.Errorf("%w: read intermediate store line %d: %w", streamerrors.ErrIO, g.line+1, err)
		return false
	}

	g.done = true
	if !g.started {
		return false
	}
	g.cur = g.building
	g.building = RawGroup{}
	g.started = false
	return true
}

// Group returns the group produced by the last successful Next. The Values
// slice is owned by the caller.
func (g *Grouper) Group() RawGroup {
	return g.cur
}

// Err returns the first error encountered, or nil at a clean end of stream.
func (g *Grouper) Err() error {
	return g.err
}

// Line returns the number of store lines consumed so far.
func (g *Grouper) Line() int64 {
	return g.line
}
