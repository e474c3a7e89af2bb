// Package streamreduce implements a single-node map/shuffle/reduce engine
// over newline-delimited text files.
//
// A run has two stages separated by a hard barrier. The map stage reads
// input records with one producer goroutine, hands them one at a time to a
// pool of map workers, and appends each worker's "<key> <value>" line to an
// intermediate store, which is then sorted by key. The reduce stage walks
// the sorted store, merges adjacent equal keys into groups, hands each group
// to a pool of reduce workers, and appends one result line per key to the
// output.
//
// # Basic Usage
//
// Counting records per key:
//
//	job := streamreduce.Job[int, string, int]{
//	    Map: func(record string) (int, string, error) {
//	        return int(record[0] - '0'), record[1:], nil
//	    },
//	    Reduce: func(key int, values []string) (int, error) {
//	        return len(values), nil
//	    },
//	    Key:    streamreduce.IntCodec{},
//	    Value:  streamreduce.StringCodec{},
//	    Result: streamreduce.IntCodec{},
//	}
//	stats, err := streamreduce.Run(ctx, "input.txt", "output.txt", job,
//	    streamreduce.WithMappers(8),
//	    streamreduce.WithReducers(4),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d records, %d keys\n", stats.Records, stats.Groups)
//
// Output lines appear in the order reduce workers finish, not in key order.
//
// # Data Contract
//
// Keys and values travel through the intermediate store as text produced by
// a Codec. Encoded keys must be non-empty and encoded keys and values must
// not contain whitespace or control characters (ErrInvalidToken). Result
// text must not contain a newline (ErrInvalidResult). Values of one key
// arrive at the reduce function in byte-wise order of their encoded text.
//
// # Package Structure
//
//   - Public API: pipeline.go (Run, Job, Stats), map_stage.go, reduce_stage.go
//   - Configuration: options.go (Option, With* functions)
//   - Worker pools: pool.go (producer + workers), sink.go (shared output),
//     internal/handoff (single-slot producer/consumer buffer)
//   - Grouping: shuffle.go (Grouper)
//   - Sorting: sorter.go (Sorter, AutoSorter), sorter_memory.go,
//     sorter_external.go, sorter_command.go
//   - Text encoding: codec.go
//   - Diagnostics: observer.go (Observer, LogObserver)
//   - Platform: fadvise_*.go, fallocate_*.go, prefault_*.go, tmpfile_*.go
package streamreduce
