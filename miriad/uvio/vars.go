package uvio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/miriadio/go-native-miriad/internal"
	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/types"
)

// variable is one entry of the variable table. Its current value is
// the raw big-endian payload of the most recent data entry; decoding
// happens on access.
type variable struct {
	name    string
	typ     types.Type
	index   int
	nbytes  int // current byte length, -1 before any size entry
	data    []byte
	updated bool // changed by the most recent record scan
	pending bool // changed since the last record was written
}

func (v *variable) count() int {
	if v.data != nil {
		return len(v.data) / v.typ.Size()
	}
	if v.nbytes < 0 {
		return 0
	}
	return v.nbytes / v.typ.Size()
}

// readVartable parses the "<tag> <name>" lines of the vartable item.
// Line order fixes the variable indices used by visdata entries.
func (uv *UV) readVartable() {
	it, aerr := uv.ds.Access(vartableItem, "read")
	bug.ThrowIfError(aerr)
	defer it.Release()
	for {
		line, rerr := it.ReadLine()
		if rerr == io.EOF {
			break
		}
		bug.ThrowIfError(rerr)
		if line == "" {
			continue
		}
		tag, name, ok := strings.Cut(line, " ")
		if !ok || len(tag) != 1 {
			fail("bad vartable line: "+line, ErrVarTable)
		}
		t, terr := types.FromTag(tag[0])
		if terr != nil {
			fail("bad vartable line: "+line, ErrVarTable)
		}
		uv.addVar(name, t)
	}
}

func (uv *UV) addVar(name string, t types.Type) *variable {
	if len(uv.vars) >= maxVariables {
		fail("too many variables", ErrVarTable)
	}
	v := &variable{name: name, typ: t, index: len(uv.vars), nbytes: -1}
	uv.vars = append(uv.vars, v)
	uv.varByName[name] = v
	return v
}

// defineVar looks a variable up, creating it (and its vartable line)
// when the stream is open for writing. A type clash with an existing
// variable is a caller error.
func (uv *UV) defineVar(name string, t types.Type) *variable {
	if !internal.IsValidItemName(name) {
		bug.Throw(&bug.ValidationError{Arg: "name",
			Check: "not a valid variable name"})
	}
	if v := uv.varByName[name]; v != nil {
		if v.typ != t {
			bug.Throw(&bug.ValidationError{Arg: "name",
				Check: fmt.Sprintf("variable %s is %s, not %s",
					name, v.typ.Name(), t.Name())})
		}
		return v
	}
	if uv.vtItem == nil {
		fail("cannot define variable "+name+" on a reading stream", ErrReadOnly)
	}
	v := uv.addVar(name, t)
	bug.ThrowIfError(uv.vtItem.WriteLine(string(t.Tag()) + " " + name))
	return v
}

// putRaw stages an encoded value; it reaches visdata when the next
// record is written.
func (uv *UV) putRaw(name string, t types.Type, data []byte) (err error) {
	defer bug.Recover(&err)
	v := uv.defineVar(name, t)
	v.data = data
	v.pending = true
	return nil
}

func encodeInts(vals []int32) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, vals)
	return out.Bytes()
}

func encodeInt64s(vals []int64) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, vals)
	return out.Bytes()
}

func encodeFloats(vals []float32) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, vals)
	return out.Bytes()
}

func encodeDoubles(vals []float64) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, vals)
	return out.Bytes()
}

func encodeComplex(vals []complex64) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, vals)
	return out.Bytes()
}

func (v *variable) decode(out any) error {
	return binary.Read(bytes.NewReader(v.data), binary.BigEndian, out)
}

// asInts returns the value widened to int32s; int16 variables never
// surface narrow.
func (v *variable) asInts() ([]int32, error) {
	switch v.typ {
	case types.Int16:
		narrow := make([]int16, v.count())
		if err := v.decode(narrow); err != nil {
			return nil, err
		}
		out := make([]int32, len(narrow))
		for i, x := range narrow {
			out[i] = int32(x)
		}
		return out, nil
	case types.Int32:
		out := make([]int32, v.count())
		return out, v.decode(out)
	}
	return nil, &bug.ValidationError{Arg: v.name,
		Check: "is " + v.typ.Name() + ", not an integer variable"}
}

// asDoubles widens any numeric variable to float64s.
func (v *variable) asDoubles() ([]float64, error) {
	switch v.typ {
	case types.Int16, types.Int32:
		ints, err := v.asInts()
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(ints))
		for i, x := range ints {
			out[i] = float64(x)
		}
		return out, nil
	case types.Int64:
		raw := make([]int64, v.count())
		if err := v.decode(raw); err != nil {
			return nil, err
		}
		out := make([]float64, len(raw))
		for i, x := range raw {
			out[i] = float64(x)
		}
		return out, nil
	case types.Real:
		raw := make([]float32, v.count())
		if err := v.decode(raw); err != nil {
			return nil, err
		}
		out := make([]float64, len(raw))
		for i, x := range raw {
			out[i] = float64(x)
		}
		return out, nil
	case types.Double:
		out := make([]float64, v.count())
		return out, v.decode(out)
	}
	return nil, &bug.ValidationError{Arg: v.name,
		Check: "is " + v.typ.Name() + ", not a numeric variable"}
}

func (v *variable) asComplex() ([]complex64, error) {
	if v.typ != types.Complex {
		return nil, &bug.ValidationError{Arg: v.name,
			Check: "is " + v.typ.Name() + ", not a complex variable"}
	}
	out := make([]complex64, v.count())
	return out, v.decode(out)
}

// ProbeVar describes a variable without reading it: its type tag, the
// element count of its current value, and whether the most recent
// record updated it. An unknown variable probes as a space tag.
func (uv *UV) ProbeVar(name string) (tag byte, length int, updated bool, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	v := uv.varByName[name]
	if v == nil {
		return ' ', 0, false, nil
	}
	return v.typ.Tag(), v.count(), v.updated, nil
}

// fetch is the strict variable access: the variable must exist, hold a
// value, and hold exactly n elements of the expected type.
func (uv *UV) fetch(name string, want types.Type, n int) *variable {
	v := uv.varByName[name]
	if v == nil || v.data == nil {
		bug.Throw(bug.ErrNotPresent)
	}
	widened := want == types.Int32 && v.typ == types.Int16
	if v.typ != want && !widened {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: "is " + v.typ.Name() + ", not " + want.Name()})
	}
	if v.count() != n {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("holds %d elements, not %d", v.count(), n)})
	}
	return v
}

// GetVarInt reads an integer variable's current value. Short integer
// variables are widened into the int32 buffer, never loaded narrow.
func (uv *UV) GetVarInt(name string, buf []int32, n int) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, buf, types.KindInteger, 4))
	bug.ThrowIfError(types.CheckLen(name, buf, n))
	v := uv.fetch(name, types.Int32, n)
	vals, derr := v.asInts()
	bug.ThrowIfError(derr)
	copy(buf, vals)
	return nil
}

// GetVarInt16 reads a short integer variable's current value, widened
// into an int32 buffer; there is deliberately no way to load one
// narrow.
func (uv *UV) GetVarInt16(name string, buf []int32, n int) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, buf, types.KindInteger, 4))
	bug.ThrowIfError(types.CheckLen(name, buf, n))
	v := uv.varByName[name]
	if v == nil || v.data == nil {
		bug.Throw(bug.ErrNotPresent)
	}
	if v.typ != types.Int16 {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: "is " + v.typ.Name() + ", not integer*2"})
	}
	if v.count() != n {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("holds %d elements, not %d", v.count(), n)})
	}
	vals, derr := v.asInts()
	bug.ThrowIfError(derr)
	copy(buf, vals)
	return nil
}

// GetVarInt64 reads a long integer variable's current value.
func (uv *UV) GetVarInt64(name string, buf []int64, n int) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, buf, types.KindInteger, 8))
	bug.ThrowIfError(types.CheckLen(name, buf, n))
	v := uv.fetch(name, types.Int64, n)
	return v.decode(buf[:n])
}

// GetVarFloat reads a real variable's current value.
func (uv *UV) GetVarFloat(name string, buf []float32, n int) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, buf, types.KindFloat, 4))
	bug.ThrowIfError(types.CheckLen(name, buf, n))
	v := uv.fetch(name, types.Real, n)
	return v.decode(buf[:n])
}

// GetVarDouble reads a double variable's current value.
func (uv *UV) GetVarDouble(name string, buf []float64, n int) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, buf, types.KindFloat, 8))
	bug.ThrowIfError(types.CheckLen(name, buf, n))
	v := uv.fetch(name, types.Double, n)
	return v.decode(buf[:n])
}

// GetVarComplex reads a complex variable's current value.
func (uv *UV) GetVarComplex(name string, buf []complex64, n int) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, buf, types.KindComplex, 8))
	bug.ThrowIfError(types.CheckLen(name, buf, n))
	v := uv.fetch(name, types.Complex, n)
	return v.decode(buf[:n])
}

// GetVarString reads a character variable's current value into buf,
// which must be strictly larger than the stored length so a value of
// exactly the buffer size can never be silently truncated.
func (uv *UV) GetVarString(name string, buf []byte) (value string, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	v := uv.varByName[name]
	if v == nil || v.data == nil {
		bug.Throw(bug.ErrNotPresent)
	}
	if v.typ != types.Byte {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: "is " + v.typ.Name() + ", not character"})
	}
	if len(buf) <= len(v.data) {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("buffer of %d bytes cannot hold a %d-byte value",
				len(buf), len(v.data))})
	}
	n := copy(buf, v.data)
	return string(buf[:n]), nil
}

// The lenient first-value readers return the supplied default when the
// variable is unknown or has no value yet, with no error.

// GetVarFirstInt returns an integer variable's current scalar value,
// or def.
func (uv *UV) GetVarFirstInt(name string, def int32) (value int32, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	v := uv.varByName[name]
	if v == nil || v.data == nil {
		return def, nil
	}
	vals, derr := v.asInts()
	bug.ThrowIfError(derr)
	if len(vals) == 0 {
		return def, nil
	}
	return vals[0], nil
}

// GetVarFirstDouble returns a numeric variable's current scalar value
// widened to a double, or def.
func (uv *UV) GetVarFirstDouble(name string, def float64) (value float64, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	v := uv.varByName[name]
	if v == nil || v.data == nil {
		return def, nil
	}
	vals, derr := v.asDoubles()
	bug.ThrowIfError(derr)
	if len(vals) == 0 {
		return def, nil
	}
	return vals[0], nil
}

// GetVarFirstFloat returns a numeric variable's current scalar value
// as a real, or def.
func (uv *UV) GetVarFirstFloat(name string, def float32) (value float32, err error) {
	defer bug.Recover(&err)
	v, verr := uv.GetVarFirstDouble(name, float64(def))
	bug.ThrowIfError(verr)
	return float32(v), nil
}

// GetVarFirstString returns a character variable's current value, or
// def.
func (uv *UV) GetVarFirstString(name string, def string) (value string, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	v := uv.varByName[name]
	if v == nil || v.data == nil {
		return def, nil
	}
	if v.typ != types.Byte {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: "is " + v.typ.Name() + ", not character"})
	}
	return string(v.data), nil
}

// PutVarInt stages an integer variable value for the next record.
func (uv *UV) PutVarInt(name string, vals []int32) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, vals, types.KindInteger, 4))
	return uv.putRaw(name, types.Int32, encodeInts(vals))
}

// PutVarInt16 stages a short integer variable value for the next
// record. Reads of the variable widen to int32.
func (uv *UV) PutVarInt16(name string, vals []int16) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, vals, types.KindInteger, 2))
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, vals)
	return uv.putRaw(name, types.Int16, out.Bytes())
}

// PutVarInt64 stages a long integer variable value for the next
// record.
func (uv *UV) PutVarInt64(name string, vals []int64) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, vals, types.KindInteger, 8))
	return uv.putRaw(name, types.Int64, encodeInt64s(vals))
}

// PutVarFloat stages a real variable value for the next record.
func (uv *UV) PutVarFloat(name string, vals []float32) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, vals, types.KindFloat, 4))
	return uv.putRaw(name, types.Real, encodeFloats(vals))
}

// PutVarDouble stages a double variable value for the next record.
func (uv *UV) PutVarDouble(name string, vals []float64) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, vals, types.KindFloat, 8))
	return uv.putRaw(name, types.Double, encodeDoubles(vals))
}

// PutVarComplex stages a complex variable value for the next record.
func (uv *UV) PutVarComplex(name string, vals []complex64) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check(name, vals, types.KindComplex, 8))
	return uv.putRaw(name, types.Complex, encodeComplex(vals))
}

// PutVarString stages a character variable value for the next record.
func (uv *UV) PutVarString(name, value string) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	return uv.putRaw(name, types.Byte, []byte(value))
}

// Scan advances through records until one updates the named variable.
// It reports false at a clean end of stream; the distinction between
// found, exhausted and failed is in the two return values.
func (uv *UV) Scan(name string) (found bool, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	if uv.status != "old" {
		fail("scan on a stream open for writing", ErrWriteOnly)
	}
	v := uv.varByName[name]
	if v == nil {
		bug.Throw(bug.ErrNotPresent)
	}
	for uv.scanRecord() {
		uv.flagOffset += int64(uv.channelCount())
		if v.updated {
			return true, nil
		}
	}
	return false, nil
}

// VarTracker watches a set of variables for updates and marks some for
// copying to an output stream.
type VarTracker struct {
	uv    *UV
	watch map[string]string
}

// MakeVarTracker creates a tracker bound to this stream.
func (uv *UV) MakeVarTracker() *VarTracker {
	vt := &VarTracker{uv: uv, watch: make(map[string]string)}
	uv.trackers = append(uv.trackers, vt)
	return vt
}

// Track watches the named variable. The switches string may contain
// 'u' (report it from Updated) and 'c' (copy it from CopyMarked).
func (vt *VarTracker) Track(name, switches string) (err error) {
	defer bug.Recover(&err)
	vt.uv.checkOpen()
	for _, c := range switches {
		if c != 'u' && c != 'c' {
			bug.Throw(&bug.ValidationError{Arg: "switches",
				Check: fmt.Sprintf("unknown switch %q", c)})
		}
	}
	if vt.uv.varByName[name] == nil {
		bug.Throw(bug.ErrNotPresent)
	}
	vt.watch[name] = switches
	return nil
}

// Updated reports whether any 'u'-tracked variable was updated by the
// most recent record.
func (vt *VarTracker) Updated() bool {
	for name, switches := range vt.watch {
		if !strings.ContainsRune(switches, 'u') {
			continue
		}
		if v := vt.uv.varByName[name]; v != nil && v.updated {
			return true
		}
	}
	return false
}

// CopyMarked stages the current values of all 'c'-tracked variables on
// the output stream.
func (vt *VarTracker) CopyMarked(dst *UV) (err error) {
	defer bug.Recover(&err)
	vt.uv.checkOpen()
	dst.checkOpen()
	for _, v := range vt.uv.vars {
		switches, tracked := vt.watch[v.name]
		if !tracked || !strings.ContainsRune(switches, 'c') || v.data == nil {
			continue
		}
		bug.ThrowIfError(dst.putRaw(v.name, v.typ,
			append([]byte(nil), v.data...)))
	}
	return nil
}

// Updated reports whether any tracker on this stream saw an update in
// the most recent record.
func (uv *UV) Updated() bool {
	for _, vt := range uv.trackers {
		if vt.Updated() {
			return true
		}
	}
	return false
}
