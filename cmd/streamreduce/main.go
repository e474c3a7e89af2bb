// Streamreduce runs a key-count or key-sum job over a text file.
//
// Usage:
//
//	go run ./cmd/streamreduce -input records.txt -output counts.txt -mappers 8 -reducers 4
//
// Each input line is split into a key and a value. With -split char the key
// is the first character and the value is the rest of the line, so "1abc"
// maps to key "1", value "abc". With -split field the key and value are the
// first two whitespace-separated fields.
//
// Each output line is "<key> <count>" (-mode count) or "<key> <sum>"
// (-mode sum, values must be integers).
//
// Flags:
//
//	-input      Input file (required)
//	-output     Output file (required)
//	-mappers    Map workers (default: 1)
//	-reducers   Reduce workers (default: 1)
//	-mode       count or sum (default: count)
//	-split      char or field (default: char)
//	-sorter     auto, memory, external or command (default: auto)
//	-tempdir    Directory for the intermediate store and sort runs
//	-store      Explicit intermediate store path
//	-verbosity  quiet, verbose or timed (default: quiet)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/tamirms/streamreduce"
)

func main() {
	inputFlag := flag.String("input", "", "input file")
	outputFlag := flag.String("output", "", "output file")
	mappersFlag := flag.Int("mappers", 1, "number of map workers")
	reducersFlag := flag.Int("reducers", 1, "number of reduce workers")
	modeFlag := flag.String("mode", "count", "job: count or sum")
	splitFlag := flag.String("split", "char", "record split: char or field")
	sorterFlag := flag.String("sorter", "auto", "sorter: auto, memory, external or command")
	tempDirFlag := flag.String("tempdir", "", "directory for the intermediate store and sort runs")
	storeFlag := flag.String("store", "", "explicit intermediate store path")
	verbosityFlag := flag.String("verbosity", "quiet", "quiet, verbose or timed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *inputFlag == "" || *outputFlag == "" {
		fmt.Fprintln(os.Stderr, "both -input and -output are required")
		flag.Usage()
		os.Exit(2)
	}
	verbosity, err := streamreduce.ParseVerbosity(*verbosityFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	sorter, err := parseSorter(*sorterFlag, *tempDirFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	split, err := parseSplit(*splitFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	opts := []streamreduce.Option{
		streamreduce.WithMappers(*mappersFlag),
		streamreduce.WithReducers(*reducersFlag),
		streamreduce.WithSorter(sorter),
		streamreduce.WithTempDir(*tempDirFlag),
		streamreduce.WithIntermediatePath(*storeFlag),
		streamreduce.WithObserver(streamreduce.NewLogObserver(logger, verbosity)),
		streamreduce.WithLogger(logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stats *streamreduce.Stats
	switch *modeFlag {
	case "count":
		stats, err = streamreduce.Run(ctx, *inputFlag, *outputFlag, countJob(split), opts...)
	case "sum":
		stats, err = streamreduce.Run(ctx, *inputFlag, *outputFlag, sumJob(split), opts...)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (use count or sum)\n", *modeFlag)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("run complete",
		"run", stats.RunID,
		"records", stats.Records,
		"pairs", stats.Pairs,
		"keys", stats.Groups,
		"map", stats.MapTime,
		"sort", stats.SortTime,
		"reduce", stats.ReduceTime,
	)
}

// splitFunc splits one record into key and value text.
type splitFunc func(record string) (key, value string, err error)

func parseSplit(s string) (splitFunc, error) {
	switch s {
	case "char":
		return splitChar, nil
	case "field":
		return splitField, nil
	default:
		return nil, fmt.Errorf("unknown split %q (use char or field)", s)
	}
}

func splitChar(record string) (string, string, error) {
	if record == "" {
		return "", "", errors.New("empty record")
	}
	_, n := utf8.DecodeRuneInString(record)
	return record[:n], record[n:], nil
}

func splitField(record string) (string, string, error) {
	fields := strings.Fields(record)
	switch len(fields) {
	case 0:
		return "", "", errors.New("empty record")
	case 1:
		return fields[0], "", nil
	default:
		return fields[0], fields[1], nil
	}
}

func countJob(split splitFunc) streamreduce.Job[string, string, string] {
	return streamreduce.Job[string, string, string]{
		Map: streamreduce.MapFunc[string, string](split),
		Reduce: func(key string, values []string) (string, error) {
			return key + " " + strconv.Itoa(len(values)), nil
		},
		Key:    streamreduce.StringCodec{},
		Value:  streamreduce.StringCodec{},
		Result: streamreduce.StringCodec{},
	}
}

func sumJob(split splitFunc) streamreduce.Job[string, int64, string] {
	return streamreduce.Job[string, int64, string]{
		Map: func(record string) (string, int64, error) {
			key, value, err := split(record)
			if err != nil {
				return "", 0, err
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return "", 0, fmt.Errorf("value of %q: %w", record, err)
			}
			return key, n, nil
		},
		Reduce: func(key string, values []int64) (string, error) {
			var sum int64
			for _, v := range values {
				sum += v
			}
			return key + " " + strconv.FormatInt(sum, 10), nil
		},
		Key:    streamreduce.StringCodec{},
		Value:  streamreduce.Int64Codec{},
		Result: streamreduce.StringCodec{},
	}
}

func parseSorter(name, tempDir string) (streamreduce.Sorter, error) {
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
