package streamreduce

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

func sumInts(_ int, values []int) (int, error) {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return sum, nil
}

func newSumReduceStage(t *testing.T, opts ...Option) *ReduceStage[int, int, int] {
	t.Helper()
	s, err := NewReduceStage(sumInts, IntCodec{}, IntCodec{}, IntCodec{}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestReduceStageSums(t *testing.T) {
	store := writeLines(t, "store", []string{
		"1 23", "1 300",
		"2 100", "2 200", "2 23",
		"3 10", "3 5",
	})
	for _, reducers := range []int{1, 4} {
		t.Run(fmt.Sprintf("reducers=%d", reducers), func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "output")
			res, err := newSumReduceStage(t, WithReducers(reducers)).Run(context.Background(), store, output)
			if err != nil {
				t.Fatal(err)
			}
			if res.Groups != 3 || res.Results != 3 {
				t.Errorf("Groups=%d Results=%d, want 3 and 3", res.Groups, res.Results)
			}
			got := sortedCopy(readLines(t, output))
			if want := []string{"15", "323", "323"}; !slices.Equal(got, want) {
				t.Errorf("output = %q, want %q", got, want)
			}
			if res.Digest != LineDigest(got) {
				t.Errorf("Digest = %016x, want %016x", res.Digest, LineDigest(got))
			}
		})
	}
}

// TestReduceStageOneResultPerKey verifies that each distinct key produces
// exactly one output line across many reducers.
func TestReduceStageOneResultPerKey(t *testing.T) {
	rng := newTestRNG(t)
	want := make(map[int]int)
	var lines []string
	for range 4000 {
		k, v := rng.IntN(300), rng.IntN(100)
		want[k] += v
		lines = append(lines, strconv.Itoa(k)+" "+strconv.Itoa(v))
	}
	store := writeLines(t, "store", sortedCopy(lines))

	// Results carry the key so they can be matched.
	s, err := NewReduceStage(func(k int, vs []int) (string, error) {
		sum, _ := sumInts(k, vs)
		return strconv.Itoa(k) + " " + strconv.Itoa(sum), nil
	}, IntCodec{}, IntCodec{}, StringCodec{}, WithReducers(16))
	if err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(t.TempDir(), "output")
	res, err := s.Run(context.Background(), store, output)
	if err != nil {
		t.Fatal(err)
	}
	if res.Groups != int64(len(want)) {
		t.Errorf("Groups = %d, want %d", res.Groups, len(want))
	}

	got := readLines(t, output)
	if len(got) != len(want) {
		t.Fatalf("%d output lines, want %d", len(got), len(want))
	}
	seen := make(map[int]bool)
	for _, line := range got {
		var k, sum int
		if _, err := fmt.Sscanf(line, "%d %d", &k, &sum); err != nil {
			t.Fatalf("output line %q: %v", line, err)
		}
		if seen[k] {
			t.Fatalf("key %d reduced twice", k)
		}
		seen[k] = true
		if sum != want[k] {
			t.Errorf("key %d: sum %d, want %d", k, sum, want[k])
		}
	}
}

func TestReduceStageEmptyStore(t *testing.T) {
	store := writeLines(t, "store", nil)
	output := filepath.Join(t.TempDir(), "output")
	res, err := newSumReduceStage(t, WithReducers(3)).Run(context.Background(), store, output)
	if err != nil {
		t.Fatal(err)
	}
	if res.Groups != 0 || res.Results != 0 {
		t.Errorf("result = %+v, want zero counts", res)
	}
	if got := readLines(t, output); len(got) != 0 {
		t.Errorf("output = %q, want empty", got)
	}
}

// TestReduceStageValueOrder verifies that values of a key arrive in store
// order, which after the sort is byte-wise order of the value text.
func TestReduceStageValueOrder(t *testing.T) {
	store := writeLines(t, "store", []string{"1 a", "1 b", "1 c"})
	var got []string
	s, err := NewReduceStage(func(_ int, vs []string) (int, error) {
		got = slices.Clone(vs)
		return len(vs), nil
	}, IntCodec{}, StringCodec{}, IntCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background(), store, filepath.Join(t.TempDir(), "output")); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("values = %q", got)
	}
}

// =============================================================================
// Failures
// =============================================================================

func TestReduceStageMalformedLine(t *testing.T) {
	store := writeLines(t, "store", []string{"1 5", "2", "3 7"})
	_, err := newSumReduceStage(t, WithReducers(2)).Run(context.Background(), store, filepath.Join(t.TempDir(), "output"))
	var mre *streamerrors.MalformedRecordError
	if !errors.As(err, &mre) {
		t.Fatalf("error = %v, want *MalformedRecordError", err)
	}
	if mre.Line != 2 {
		t.Errorf("Line = %d, want 2", mre.Line)
	}
}

func TestReduceStageUndecodableValue(t *testing.T) {
	store := writeLines(t, "store", []string{"1 5", "2 1", "2 x"})
	_, err := newSumReduceStage(t).Run(context.Background(), store, filepath.Join(t.TempDir(), "output"))
	if !errors.Is(err, streamerrors.ErrMalformedRecord) {
		t.Fatalf("error = %v, want ErrMalformedRecord", err)
	}
	var mre *streamerrors.MalformedRecordError
	if errors.As(err, &mre) && (mre.Line != 3 || mre.Text != "2 x") {
		t.Errorf("MalformedRecordError = %+v, want line 3 %q", mre, "2 x")
	}
}

func TestReduceStageUndecodableKey(t *testing.T) {
	store := writeLines(t, "store", []string{"k 5"})
	_, err := newSumReduceStage(t).Run(context.Background(), store, filepath.Join(t.TempDir(), "output"))
	if !errors.Is(err, streamerrors.ErrMalformedRecord) {
		t.Fatalf("error = %v, want ErrMalformedRecord", err)
	}
}

func TestReduceStageUnsortedStore(t *testing.T) {
	store := writeLines(t, "store", []string{"2 1", "1 1"})
	_, err := newSumReduceStage(t).Run(context.Background(), store, filepath.Join(t.TempDir(), "output"))
	if !errors.Is(err, streamerrors.ErrUnsortedInput) {
		t.Fatalf("error = %v, want ErrUnsortedInput", err)
	}
}

func TestReduceStageWorkerFault(t *testing.T) {
	errNeg := errors.New("negative sum")
	s, err := NewReduceStage(func(k int, vs []int) (int, error) {
		if k == 2 {
			return 0, errNeg
		}
		return sumInts(k, vs)
	}, IntCodec{}, IntCodec{}, IntCodec{}, WithReducers(4))
	if err != nil {
		t.Fatal(err)
	}
	store := writeLines(t, "store", []string{"1 1", "2 2", "3 3"})
	_, err = s.Run(context.Background(), store, filepath.Join(t.TempDir(), "output"))
	if !errors.Is(err, streamerrors.ErrWorkerFault) || !errors.Is(err, errNeg) {
		t.Fatalf("error = %v, want ErrWorkerFault wrapping the reduce error", err)
	}
	var wf *streamerrors.WorkerFault
	if errors.As(err, &wf) && (wf.Stage != "reduce" || wf.Item != "2") {
		t.Errorf("WorkerFault = %+v", wf)
	}
}

func TestReduceStageResultWithNewline(t *testing.T) {
	s, err := NewReduceStage(func(_ int, _ []string) (string, error) {
		return "two\nlines", nil
	}, IntCodec{}, StringCodec{}, StringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	store := writeLines(t, "store", []string{"1 a"})
	_, err = s.Run(context.Background(), store, filepath.Join(t.TempDir(), "output"))
	if !errors.Is(err, streamerrors.ErrInvalidResult) {
		t.Fatalf("error = %v, want ErrInvalidResult", err)
	}
}

func TestReduceStageMissingStore(t *testing.T) {
	dir := t.TempDir()
	_, err := newSumReduceStage(t).Run(context.Background(), filepath.Join(dir, "missing"), filepath.Join(dir, "output"))
	if !errors.Is(err, streamerrors.ErrIO) {
		t.Fatalf("error = %v, want ErrIO", err)
	}
}

func TestNewReduceStageValidation(t *testing.T) {
	if _, err := NewReduceStage(sumInts, IntCodec{}, IntCodec{}, IntCodec{}, WithReducers(-1)); !errors.Is(err, streamerrors.ErrInvalidWorkerCount) {
		t.Errorf("WithReducers(-1): error = %v, want ErrInvalidWorkerCount", err)
	}
	if _, err := NewReduceStage(sumInts, IntCodec{}, IntCodec{}, nil); !errors.Is(err, streamerrors.ErrNilFunc) {
		t.Errorf("nil result codec: error = %v, want ErrNilFunc", err)
	}
}
