package streamreduce

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// writeLines writes lines, each followed by a newline, to a new file in a
// test temp dir and returns its path.
func writeLines(t testing.TB, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// readLines returns the lines of path without their newlines.
func readLines(t testing.TB, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return lines
}

// sortedCopy returns lines sorted byte-wise.
func sortedCopy(lines []string) []string {
	out := slices.Clone(lines)
	slices.Sort(out)
	return out
}

// digitKey maps "<digit><rest>" to (digit, rest).
func digitKey(record string) (int, string, error) {
	if record == "" {
		return 0, "", fmt.Errorf("empty record")
	}
	return int(record[0] - '0'), record[1:], nil
}

// countJob counts the values of each digit key.
func countJob() Job[int, string, int] {
	return Job[int, string, int]{
		Map:    digitKey,
		Reduce: func(_ int, values []string) (int, error) { return len(values), nil },
		Key:    IntCodec{},
		Value:  StringCodec{},
		Result: IntCodec{},
	}
}

// sumJob sums the integer values of each digit key.
func sumJob() Job[int, int, int] {
	return Job[int, int, int]{
		Map: func(record string) (int, int, error) {
			k, rest, err := digitKey(record)
			if err != nil {
				return 0, 0, err
			}
			v, err := strconv.Atoi(rest)
			return k, v, err
		},
		Reduce: func(_ int, values []int) (int, error) {
			sum := 0
			for _, v := range values {
				sum += v
			}
			return sum, nil
		},
		Key:    IntCodec{},
		Value:  IntCodec{},
		Result: IntCodec{},
	}
}

// randomRecords returns n "<digit><word>" records.
func randomRecords(rng *rand.Rand, n int) []string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	records := make([]string, n)
	for i := range records {
		var b strings.Builder
		b.WriteByte(byte('0' + rng.IntN(10)))
		for range 1 + rng.IntN(8) {
			b.WriteByte(letters[rng.IntN(len(letters))])
		}
		records[i] = b.String()
	}
	return records
}

// recordingObserver records stage events and counts timed operations.
type recordingObserver struct {
	timing bool

	mu       sync.Mutex
	started  []Stage
	finished []Stage
	errs     map[Stage]error
	ops      map[Op]int
}

func newRecordingObserver(timing bool) *recordingObserver {
	return &recordingObserver{timing: timing, errs: make(map[Stage]error), ops: make(map[Op]int)}
}

func (o *recordingObserver) StageStarted(stage Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, stage)
}

func (o *recordingObserver) StageFinished(stage Stage, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, stage)
	if err != nil {
		o.errs[stage] = err
	}
}

func (o *recordingObserver) TimingEnabled() bool { return o.timing }

func (o *recordingObserver) OpTimed(_ Stage, op Op, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[op]++
}
