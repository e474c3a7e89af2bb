package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMalformedRecordError(t *testing.T) {
	err := error(&MalformedRecordError{Line: 12, Text: "k v w", Reason: "value contains whitespace"})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Error("MalformedRecordError does not match ErrMalformedRecord")
	}
	msg := err.Error()
	for _, s := range []string{"line 12", "value contains whitespace", `"k v w"`} {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q missing %q", msg, s)
		}
	}
}

func TestWorkerFault(t *testing.T) {
	err := error(&WorkerFault{Stage: "reduce", Worker: 3, Item: "key", Err: io.ErrUnexpectedEOF})
	if !errors.Is(err, ErrWorkerFault) {
		t.Error("WorkerFault does not match ErrWorkerFault")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("WorkerFault does not match the wrapped error")
	}
	if errors.Is(err, ErrMalformedRecord) {
		t.Error("WorkerFault matches ErrMalformedRecord")
	}
	if msg := err.Error(); !strings.Contains(msg, "reduce worker 3") || !strings.Contains(msg, `"key"`) {
		t.Errorf("message = %q", msg)
	}
}

func TestSentinelsDistinct(t *testing.T) {
	all := []error{
		ErrIO, ErrSort, ErrMalformedRecord, ErrWorkerFault,
		ErrInvalidWorkerCount, ErrNilFunc, ErrPathConflict,
		ErrInvalidToken, ErrInvalidResult, ErrUnsortedInput, ErrCorruptRun,
		ErrHandoffClosed, ErrHandoffAborted,
	}
	for i, a := range all {
		if !strings.HasPrefix(a.Error(), "streamreduce: ") {
			t.Errorf("%q lacks the package prefix", a)
		}
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%q matches %q", a, b)
			}
		}
	}
}
