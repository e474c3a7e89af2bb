package streamreduce

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

// Codec converts values to and from their canonical text form.
//
// Keys and values are written to the intermediate store as
// "<key> <value>\n", so their encodings must not contain whitespace or
// control characters, and keys must not be empty. Encodings must be
// canonical: two equal values must encode to the same text, because groups
// are formed by comparing key text.
type Codec[T any] interface {
	Encode(v T) string
	Decode(s string) (T, error)
}

// CodecFuncs adapts a pair of functions to the Codec interface.
type CodecFuncs[T any] struct {
	EncodeFunc func(T) string
	DecodeFunc func(string) (T, error)
}

func (c CodecFuncs[T]) Encode(v T) string { return c.EncodeFunc(v) }
func (c CodecFuncs[T]) Decode(s string) (T, error) { return c.DecodeFunc(s) }

// StringCodec encodes strings verbatim.
type StringCodec struct{}

func (StringCodec) Encode(v string) string { return v }
func (StringCodec) Decode(s string) (string, error) { return s, nil }

// IntCodec encodes int in base 10.
type IntCodec struct{}

func (IntCodec) Encode(v int) string { return strconv.Itoa(v) }
func (IntCodec) Decode(s string) (int, error) { return strconv.Atoi(s) }

// Int64Codec encodes int64 in base 10.
type Int64Codec struct{}

func (Int64Codec) Encode(v int64) string { return strconv.FormatInt(v, 10) }
func (Int64Codec) Decode(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// Uint64Codec encodes uint64 in base 10.
type Uint64Codec struct{}

func (Uint64Codec) Encode(v uint64) string { return strconv.FormatUint(v, 10) }
func (Uint64Codec) Decode(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// Float64Codec encodes float64 using the shortest representation that
// round-trips.
type Float64Codec struct{}

func (Float64Codec) Encode(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
func (Float64Codec) Decode(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// BoolCodec encodes bool as "true" or "false".
type BoolCodec struct{}

func (BoolCodec) Encode(v bool) string { return strconv.FormatBool(v) }
func (BoolCodec) Decode(s string) (bool, error) { return strconv.ParseBool(s) }

// validToken reports whether s may appear as a field of an intermediate
// record. Empty values are allowed; empty keys are rejected by the caller.
//
// Bytes at or below ' ' are rejected outright. Besides excluding the
// delimiter, this keeps byte-wise line order consistent with key order: at
// the first byte where two lines differ, a shorter key contributes ' ',
// which then sorts below any byte of a longer key.
func validToken(s string) bool {
	for _, r := range s {
		if r <= ' ' || r == 0x7f || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// encodePair renders one intermediate record without the trailing newline.
func encodePair(key, value string) (string, error) {
	if key == "" || !validToken(key) {
		return "", fmt.Errorf("%w: key %q", streamerrors.ErrInvalidToken, key)
	}
	if !validToken(value) {
		return "", fmt.Errorf("%w: value %q", streamerrors.ErrInvalidToken, value)
	}
	return key + " " + value, nil
}

// decodePair splits one intermediate record into key and value text.
// The reason string is empty on success.
func decodePair(line string) (key, value, reason string) {
	key, value, found := strings.Cut(line, " ")
	switch {
	case !found:
		return "", "", "missing key/value delimiter"
	case key == "":
		return "", "", "empty key"
	case strings.ContainsAny(key, "\t\r\v\f"):
		return "", "", "key contains whitespace"
	case strings.ContainsAny(value, " \t\r\v\f"):
		return "", "", "value contains whitespace"
	}
	return key, value, ""
}

// encodeResult renders one output line without the trailing newline.
func encodeResult(text string) (string, error) {
	if strings.ContainsAny(text, "\n\r") {
		return "", fmt.Errorf("%w: %q", streamerrors.ErrInvalidResult, text)
	}
	return text, nil
}
