// Package types defines the closed set of element types used by the
// MIRIAD on-disk format, the tag and width vocabulary shared by the
// item, header and UV layers, and the buffer validation that every
// array-carrying call runs before any I/O is attempted.
package types

import (
	"fmt"
)

// Type is an on-disk element type code. The numeric values are the
// item type codes stored in the first four bytes of a typed item.
type Type int32

const (
	Byte    Type = 1 // 8-bit bytes, also character data
	Int32   Type = 2
	Int16   Type = 3 // stored as 2 bytes, widened on UV variable reads
	Real    Type = 4 // float32
	Double  Type = 5 // float64
	Text    Type = 6 // raw text, no type code on disk
	Complex Type = 7 // complex64, stored as two float32s
	Int64   Type = 8
)

// Kind is the element kind a buffer is checked against.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindComplex
	KindText
)

// FromTag maps a variable type tag to its Type.
func FromTag(tag byte) (Type, error) {
	switch tag {
	case 'a':
		return Byte, nil
	case 'j':
		return Int16, nil
	case 'i':
		return Int32, nil
	case 'l':
		return Int64, nil
	case 'r':
		return Real, nil
	case 'd':
		return Double, nil
	case 'c':
		return Complex, nil
	}
	return 0, fmt.Errorf("unknown type tag %q", tag)
}

// Valid reports whether t is one of the defined type codes.
func Valid(t Type) bool {
	return t >= Byte && t <= Int64
}

// Tag returns the single-character type tag used in variable tables
// and probe results.
func (t Type) Tag() byte {
	switch t {
	case Byte, Text:
		return 'a'
	case Int16:
		return 'j'
	case Int32:
		return 'i'
	case Int64:
		return 'l'
	case Real:
		return 'r'
	case Double:
		return 'd'
	case Complex:
		return 'c'
	}
	return ' '
}

// Size returns the external element size in bytes.
func (t Type) Size() int {
	switch t {
	case Byte, Text:
		return 1
	case Int16:
		return 2
	case Int32, Real:
		return 4
	case Double, Int64, Complex:
		return 8
	}
	return 0
}

// Align returns the alignment of elements within a stream. Complex
// values align as pairs of float32s.
func (t Type) Align() int {
	switch t {
	case Byte, Text:
		return 1
	case Int16:
		return 2
	case Int32, Real, Complex:
		return 4
	case Double, Int64:
		return 8
	}
	return 0
}

// Offset returns the byte offset of the first element within a typed
// item: the four-byte type code plus alignment padding.
func (t Type) Offset() int64 {
	if t.Align() == 8 {
		return 8
	}
	return 4
}

// Kind returns the element kind of t.
func (t Type) Kind() Kind {
	switch t {
	case Byte, Int16, Int32, Int64:
		return KindInteger
	case Real, Double:
		return KindFloat
	case Complex:
		return KindComplex
	}
	return KindText
}

// Name returns the header probe type name.
func (t Type) Name() string {
	switch t {
	case Byte:
		return "character"
	case Int16:
		return "integer*2"
	case Int32:
		return "integer"
	case Int64:
		return "integer*8"
	case Real:
		return "real"
	case Double:
		return "double"
	case Complex:
		return "complex"
	case Text:
		return "text"
	}
	return "unknown"
}
