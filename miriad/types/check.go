package types

import (
	"fmt"

	"github.com/miriadio/go-native-miriad/miriad/bug"
)

// bufferInfo describes the supported buffer element types. Only these
// concrete slice types may be handed to the typed I/O paths; anything
// else is a caller error caught here, never a fault deeper down.
func bufferInfo(buf any) (Kind, int, int, bool) {
	switch b := buf.(type) {
	case []byte:
		return KindInteger, 1, len(b), true
	case []int16:
		return KindInteger, 2, len(b), true
	case []int32:
		return KindInteger, 4, len(b), true
	case []int64:
		return KindInteger, 8, len(b), true
	case []float32:
		return KindFloat, 4, len(b), true
	case []float64:
		return KindFloat, 8, len(b), true
	case []complex64:
		return KindComplex, 8, len(b), true
	}
	return 0, 0, 0, false
}

func kindName(k Kind) string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindComplex:
		return "complex"
	}
	return "text"
}

// Check verifies that buf has the expected element kind and the exact
// element byte width. All checks complete before any I/O is attempted;
// a failure identifies the argument and the check that failed. Go
// slices of these element types are always contiguous, which discharges
// the contiguity clause of the contract statically.
func Check(name string, buf any, k Kind, width int) error {
	bk, bw, _, ok := bufferInfo(buf)
	if !ok {
		return &bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("unsupported buffer type %T", buf)}
	}
	if bk != k {
		return &bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("must be an %s-kind buffer", kindName(k))}
	}
	if bw != width {
		return &bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("element width must be %d bytes, not %d", width, bw)}
	}
	return nil
}

// CheckLen verifies that buf can hold n elements. It runs after the
// type checks and before dispatch.
func CheckLen(name string, buf any, n int) error {
	_, _, l, ok := bufferInfo(buf)
	if !ok {
		return &bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("unsupported buffer type %T", buf)}
	}
	if l < n {
		return &bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("must hold at least %d elements, has %d", n, l)}
	}
	return nil
}

// Infer returns the Type corresponding to buf's element type, the way
// the generic item I/O entry points derive the on-disk type from the
// buffer handed to them.
func Infer(buf any) (Type, error) {
	switch buf.(type) {
	case []byte:
		return Byte, nil
	case []int16:
		return Int16, nil
	case []int32:
		return Int32, nil
	case []int64:
		return Int64, nil
	case []float32:
		return Real, nil
	case []float64:
		return Double, nil
	case []complex64:
		return Complex, nil
	}
	return 0, &bug.ValidationError{Arg: "buf",
		Check: fmt.Sprintf("unhandled buffer type %T", buf)}
}
