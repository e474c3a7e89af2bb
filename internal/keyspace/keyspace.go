// Package keyspace generates deterministic synthetic records for benchmarks
// and tests: record i carries a key drawn from a fixed-size key space and a
// small integer value, both derived from a seeded murmur3 hash of i.
package keyspace

import (
	"bufio"
	"encoding/binary"
	"io"
	"math/bits"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// FastRange32 maps a 64-bit hash uniformly to [0, n) without modulo bias by
// taking the high word of hash*n.
func FastRange32(hash uint64, n uint32) uint32 {
	if n == 0 {
		return 0
	}
	hi, _ := bits.Mul64(hash, uint64(n))
	return uint32(hi)
}

// Generator produces the records of one synthetic data set.
type Generator struct {
	Seed     uint32
	Keys     uint32 // distinct keys; 0 is treated as 1
	MaxValue uint32 // values are in [0, MaxValue); 0 means 1000
}

// Pair returns the key and value of record i.
func (g Generator) Pair(i uint64) (key, value uint32) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	h1, h2 := murmur3.Sum128WithSeed(buf[:], g.Seed)

	keys := g.Keys
	if keys == 0 {
		keys = 1
	}
	maxValue := g.MaxValue
	if maxValue == 0 {
		maxValue = 1000
	}
	return FastRange32(h1, keys), FastRange32(h2, maxValue)
}

// AppendRecord appends record i as "k<key> <value>" to dst.
func (g Generator) AppendRecord(dst []byte, i uint64) []byte {
	k, v := g.Pair(i)
	dst = append(dst, 'k')
	dst = strconv.AppendUint(dst, uint64(k), 10)
	dst = append(dst, ' ')
	return strconv.AppendUint(dst, uint64(v), 10)
}

// WriteRecords writes records [0, n) to w, one per line.
func (g Generator) WriteRecords(w io.Writer, n uint64) error {
	bw := bufio.NewWriterSize(w, 256<<10)
	var line []byte
	for i := range n {
		line = g.AppendRecord(line[:0], i)
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Expected returns the per-key record counts and value sums of records
// [0, n), for checking a count or sum job.
func (g Generator) Expected(n uint64) (counts map[uint32]int64, sums map[uint32]int64) {
	counts = make(map[uint32]int64)
	sums = make(map[uint32]int64)
	for i := range n {
		k, v := g.Pair(i)
		counts[k]++
		sums[k] += int64(v)
	}
	return counts, sums
}
