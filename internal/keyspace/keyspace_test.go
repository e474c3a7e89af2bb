package keyspace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"
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

// =============================================================================
// FastRange32
// =============================================================================

// TestFastRange32Monotonicity verifies that for a fixed n,
// h1 < h2 implies FastRange32(h1,n) <= FastRange32(h2,n).
func TestFastRange32Monotonicity(t *testing.T) {
	rng := newTestRNG(t)
	const iterations = 10000

	for i := range iterations {
		n := rng.Uint32N(math.MaxUint32) + 1
		h1, h2 := rng.Uint64(), rng.Uint64()
		if h1 > h2 {
			h1, h2 = h2, h1
		}
		if r1, r2 := FastRange32(h1, n), FastRange32(h2, n); r1 > r2 {
			t.Fatalf("iter %d: FastRange32(0x%X, %d)=%d > FastRange32(0x%X, %d)=%d",
				i, h1, n, r1, h2, n, r2)
		}
	}
}

func TestFastRange32Range(t *testing.T) {
	rng := newTestRNG(t)
	for i := range 10000 {
		n := rng.Uint32N(math.MaxUint32) + 1
		h := rng.Uint64()
		if got := FastRange32(h, n); got >= n {
			t.Fatalf("iter %d: FastRange32(0x%X, %d)=%d >= %d", i, h, n, got, n)
		}
	}
}

func TestFastRange32EdgeCases(t *testing.T) {
	for _, h := range []uint64{0, 1, math.MaxUint64, 0xDEADBEEF} {
		if got := FastRange32(h, 0); got != 0 {
			t.Errorf("FastRange32(0x%X, 0) = %d, want 0", h, got)
		}
		if got := FastRange32(h, 1); got != 0 {
			t.Errorf("FastRange32(0x%X, 1) = %d, want 0", h, got)
		}
	}
	for n := uint32(2); n <= 100; n++ {
		if got := FastRange32(0, n); got != 0 {
			t.Errorf("FastRange32(0, %d) = %d, want 0", n, got)
		}
		if got := FastRange32(math.MaxUint64, n); got != n-1 {
			t.Errorf("FastRange32(MaxUint64, %d) = %d, want %d", n, got, n-1)
		}
	}
}

// =============================================================================
// Generator
// =============================================================================

func TestPairDeterministic(t *testing.T) {
	g := Generator{Seed: 7, Keys: 50, MaxValue: 10}
	for i := range uint64(1000) {
		k1, v1 := g.Pair(i)
		k2, v2 := g.Pair(i)
		if k1 != k2 || v1 != v2 {
			t.Fatalf("record %d: (%d,%d) then (%d,%d)", i, k1, v1, k2, v2)
		}
		if k1 >= 50 || v1 >= 10 {
			t.Fatalf("record %d: (%d,%d) out of range", i, k1, v1)
		}
	}
}

func TestPairSeedChangesData(t *testing.T) {
	a := Generator{Seed: 1, Keys: 1 << 20}
	b := Generator{Seed: 2, Keys: 1 << 20}
	same := 0
	for i := range uint64(100) {
		ka, _ := a.Pair(i)
		kb, _ := b.Pair(i)
		if ka == kb {
			same++
		}
	}
	if same > 5 {
		t.Errorf("%d/100 keys equal across seeds", same)
	}
}

func TestZeroKeysMeansOneKey(t *testing.T) {
	g := Generator{Seed: 3}
	for i := range uint64(100) {
		if k, _ := g.Pair(i); k != 0 {
			t.Fatalf("record %d: key %d, want 0", i, k)
		}
	}
}

func TestWriteRecordsMatchesExpected(t *testing.T) {
	rng := newTestRNG(t)
	g := Generator{Seed: rng.Uint32(), Keys: 20, MaxValue: 100}
	const n = 5000

	var buf bytes.Buffer
	if err := g.WriteRecords(&buf, n); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}

	counts := make(map[uint32]int64)
	sums := make(map[uint32]int64)
	sc := bufio.NewScanner(&buf)
	lines := 0
	for sc.Scan() {
		lines++
		key, value, ok := strings.Cut(sc.Text(), " ")
		if !ok || !strings.HasPrefix(key, "k") {
			t.Fatalf("line %d: malformed %q", lines, sc.Text())
		}
		k, err := strconv.ParseUint(key[1:], 10, 32)
		if err != nil {
			t.Fatalf("line %d: key: %v", lines, err)
		}
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			t.Fatalf("line %d: value: %v", lines, err)
		}
		counts[uint32(k)]++
		sums[uint32(k)] += v
	}
	if lines != n {
		t.Fatalf("got %d lines, want %d", lines, n)
	}

	wantCounts, wantSums := g.Expected(n)
	if len(counts) != len(wantCounts) {
		t.Fatalf("got %d keys, want %d", len(counts), len(wantCounts))
	}
	for k, c := range wantCounts {
		if counts[k] != c || sums[k] != wantSums[k] {
			t.Errorf("key %d: count %d sum %d, want %d %d", k, counts[k], sums[k], c, wantSums[k])
		}
	}
}
