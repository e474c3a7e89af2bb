// Bench measures streamreduce pipeline throughput and memory across worker
// counts and sorters on synthetic data.
//
// Usage:
//
//	go run ./cmd/bench -records 10000000 -keys 100000 -workers 1,4,16 -sorter auto
//
// Flags:
//
//	-records   Number of input records (default: 10,000,000)
//	-keys      Distinct keys in the data set (default: 100,000)
//	-seed      Data set seed (default: 0x1234)
//	-workers   Comma-separated worker counts, used for both stages (default: 1,2,4,8)
//	-sorter    auto, memory, external or command (default: auto)
//	-verify    Check every output line against the expected sums (default: true)
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tamirms/streamreduce"
	"github.com/tamirms/streamreduce/internal/keyspace"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// peakSampler tracks peak heap and RSS at 10ms intervals. It reads
// runtime/metrics rather than ReadMemStats to avoid stop-the-world pauses.
type peakSampler struct {
	alloc atomic.Uint64
	rss   atomic.Uint64
	done  chan struct{}
}

func startSampler() *peakSampler {
	s := &peakSampler{done: make(chan struct{})}
	go func() {
		samples := []metrics.Sample{
			{Name: "/memory/classes/heap/objects:bytes"},
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				storeMax(&s.alloc, samples[0].Value.Uint64())
				storeMax(&s.rss, getMaxRSS())
			}
		}
	}()
	return s
}

func (s *peakSampler) stop() (heap, rss uint64) {
	close(s.done)
	return s.alloc.Load(), s.rss.Load()
}

func storeMax(v *atomic.Uint64, x uint64) {
	for {
		old := v.Load()
		if x <= old || v.CompareAndSwap(old, x) {
			return
		}
	}
}

func main() {
	recordsFlag := flag.Uint64("records", 10_000_000, "number of input records")
	keysFlag := flag.Uint("keys", 100_000, "distinct keys")
	seedFlag := flag.Uint("seed", 0x1234, "data set seed")
	workersFlag := flag.String("workers", "1,2,4,8", "comma-separated worker counts")
	sorterFlag := flag.String("sorter", "auto", "sorter: auto, memory, external or command")
	verifyFlag := flag.Bool("verify", true, "check output against expected sums")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (pipeline runs only)")
	memprofile := flag.String("memprofile", "", "write memory profile to file after the last run")
	flag.Parse()

	workerCounts, err := parseWorkers(*workersFlag)
	if err != nil {
		fmt.Println(err)
		return
	}

	tmpDir, err := os.MkdirTemp("", "bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	gen := keyspace.Generator{Seed: uint32(*seedFlag), Keys: uint32(*keysFlag)}
	inputPath := filepath.Join(tmpDir, "input.txt")

	fmt.Println("Generating records...")
	genStart := time.Now()
	if err := writeInput(gen, inputPath, *recordsFlag); err != nil {
		fmt.Printf("Generate failed: %v\n", err)
		return
	}
	genDuration := time.Since(genStart)

	var wantSums map[uint32]int64
	if *verifyFlag {
		fmt.Println("Computing expected sums...")
		_, wantSums = gen.Expected(*recordsFlag)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	type result struct {
		workers  int
		stats    *streamreduce.Stats
		total    time.Duration
		peakHeap uint64
		peakRSS  uint64
	}
	var results []result

	for _, workers := range workerCounts {
		sorter, err := newSorter(*sorterFlag, tmpDir)
		if err != nil {
			fmt.Println(err)
			return
		}
		outputPath := filepath.Join(tmpDir, fmt.Sprintf("output-%d.txt", workers))

		runtime.GC()
		time.Sleep(50 * time.Millisecond)
		var baseline runtime.MemStats
		runtime.ReadMemStats(&baseline)
		baselineRSS := getMaxRSS()

		fmt.Printf("Running with %d workers...\n", workers)
		sampler := startSampler()
		start := time.Now()
		stats, err := streamreduce.Run(context.Background(), inputPath, outputPath, sumJob(),
			streamreduce.WithMappers(workers),
			streamreduce.WithReducers(workers),
			streamreduce.WithSorter(sorter),
			streamreduce.WithTempDir(tmpDir),
		)
		total := time.Since(start)
		peakHeap, peakRSS := sampler.stop()
		if err != nil {
			fmt.Printf("Run failed: %v\n", err)
			return
		}

		if wantSums != nil {
			if err := verifyOutput(outputPath, wantSums); err != nil {
				fmt.Printf("Verification failed: %v\n", err)
				return
			}
		}
		if len(results) > 0 && stats.OutputDigest != results[0].stats.OutputDigest {
			fmt.Printf("Output digest %016x differs from %d-worker run %016x\n",
				stats.OutputDigest, results[0].workers, results[0].stats.OutputDigest)
			return
		}

		results = append(results, result{
			workers:  workers,
			stats:    stats,
			total:    total,
			peakHeap: sub(peakHeap, baseline.Alloc),
			peakRSS:  sub(peakRSS, baselineRSS),
		})
		_ = os.Remove(outputPath)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	records := float64(*recordsFlag)
	fmt.Printf("\n")
	fmt.Printf("Records: %d   Keys: %d   Sorter: %s   Generate: %.2f sec\n",
		*recordsFlag, *keysFlag, *sorterFlag, genDuration.Seconds())
	fmt.Printf("╔═════════╦══════════╦══════════╦══════════╦══════════╦═══════════╦══════════╦══════════╗\n")
	fmt.Printf("║ Workers ║ Map s    ║ Sort s   ║ Reduce s ║ Total s  ║ M rec/sec ║ Heap MB  ║ RSS MB   ║\n")
	fmt.Printf("╠═════════╬══════════╬══════════╬══════════╬══════════╬═══════════╬══════════╬══════════╣\n")
	for _, r := range results {
		fmt.Printf("║ %7d ║ %8.2f ║ %8.2f ║ %8.2f ║ %8.2f ║ %9.2f ║ %8.1f ║ %8.1f ║\n",
			r.workers,
			r.stats.MapTime.Seconds(),
			r.stats.SortTime.Seconds(),
			r.stats.ReduceTime.Seconds(),
			r.total.Seconds(),
			records/r.total.Seconds()/1_000_000,
			float64(r.peakHeap)/1_000_000,
			float64(r.peakRSS)/1_000_000,
		)
	}
	fmt.Printf("╚═════════╩══════════╩══════════╩══════════╩══════════╩═══════════╩══════════╩══════════╝\n")
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func parseWorkers(s string) ([]int, error) {
	var counts []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid worker count %q", f)
		}
		counts = append(counts, n)
	}
	return counts, nil
}

func newSorter(name, tempDir string) (streamreduce.Sorter, error) {
	switch name {
	case "auto":
		return &streamreduce.AutoSorter{TempDir: tempDir}, nil
	case "memory":
		return &streamreduce.MemorySorter{}, nil
	case "external":
		return &streamreduce.ExternalSorter{TempDir: tempDir}, nil
	case "command":
		return &streamreduce.CommandSorter{}, nil
	default:
		return nil, fmt.Errorf("unknown sorter %q (use auto, memory, external or command)", name)
	}
}

func writeInput(gen keyspace.Generator, path string, n uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gen.WriteRecords(f, n); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// sumJob sums the values of "k<key> <value>" records per key and writes
// "<key> <sum>".
func sumJob() streamreduce.Job[uint32, int64, string] {
	return streamreduce.Job[uint32, int64, string]{
		Map: func(record string) (uint32, int64, error) {
			key, value, ok := strings.Cut(record, " ")
			if !ok || len(key) < 2 || key[0] != 'k' {
				return 0, 0, fmt.Errorf("malformed record %q", record)
			}
			k, err := strconv.ParseUint(key[1:], 10, 32)
			if err != nil {
				return 0, 0, err
			}
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, 0, err
			}
			return uint32(k), v, nil
		},
		Reduce: func(key uint32, values []int64) (string, error) {
			var sum int64
			for _, v := range values {
				sum += v
			}
			return strconv.FormatUint(uint64(key), 10) + " " + strconv.FormatInt(sum, 10), nil
		},
		Key: streamreduce.CodecFuncs[uint32]{
			EncodeFunc: func(k uint32) string { return strconv.FormatUint(uint64(k), 10) },
			DecodeFunc: func(s string) (uint32, error) {
				k, err := strconv.ParseUint(s, 10, 32)
				return uint32(k), err
			},
		},
		Value:  streamreduce.Int64Codec{},
		Result: streamreduce.StringCodec{},
	}
}

func verifyOutput(path string, want map[uint32]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	seen := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, _ := strings.Cut(sc.Text(), " ")
		k, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return fmt.Errorf("output line %q: %w", sc.Text(), err)
		}
		sum, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("output line %q: %w", sc.Text(), err)
		}
		if w, ok := want[uint32(k)]; !ok || w != sum {
			return fmt.Errorf("key %d: sum %d, want %d (present %v)", k, sum, w, ok)
		}
		seen++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if seen != len(want) {
		return fmt.Errorf("%d output lines, want %d", seen, len(want))
	}
	return nil
}
