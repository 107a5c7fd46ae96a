// Package uvio reads and writes MIRIAD visibility streams: the
// vartable/visdata item pair in which interleaved variable values and
// correlator records describe an observation, plus the flags mask that
// shadows the correlator data bit for bit.
package uvio

import (
	"errors"
	"fmt"
	"math"

	"github.com/miriadio/go-native-miriad/internal"
	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/hio"
	"github.com/miriadio/go-native-miriad/miriad/maskio"
	"github.com/miriadio/go-native-miriad/miriad/types"
)

// visdata entry kinds. Every entry starts with a four-byte header:
// variable index, kind, two zero bytes. A size entry carries the
// variable's new byte length; a data entry carries its value, padded
// to the element alignment; an end-of-record entry closes one
// visibility record.
const (
	entrySize = 0
	entryData = 1
	entryEOR  = 2
)

const (
	vartableItem = "vartable"
	visdataItem  = "visdata"
	flagsItem    = "flags"
	// maxVariables bounds the one-byte variable index of the entry
	// header.
	maxVariables = 256
)

var (
	ErrBadPreamble = errors.New("preamble must hold 4 or 5 doubles")
	ErrVarTable    = errors.New("corrupted vartable")
	ErrVisData     = errors.New("corrupted visdata")
	ErrReadOnly    = errors.New("stream not open for writing")
	ErrWriteOnly   = errors.New("stream not open for reading")
)

var logger = internal.NewLogger()

func fail(message string, err error) {
	logger.Error(message)
	bug.Throw(err)
}

// UV is an open visibility stream.
type UV struct {
	ds     *hio.Dataset
	item   *hio.Item // visdata
	vtItem *hio.Item // vartable, held open while writing
	status string
	isOpen bool

	vars      []*variable
	varByName map[string]*variable
	trackers  []*VarTracker

	offset int64 // stream offset within visdata, past the type code
	size   int64 // stream payload size

	mask        *maskio.Mask
	maskAbsent  bool  // reading a dataset with no flags item
	flagOffset  int64 // bit offset of the next record's flags
	lastFlagOff int64 // bit offset of the record just read
	lastNChan   int   // channel count of the record just read

	visNo      int64
	preamble   []string // preamble layout, e.g. uv time baseline
	selection  []selectClause
	shadowDiam float64 // from a shadow selection, 0 when none made
}

// Open opens the visibility dataset at path. Status is "old" to read,
// "new" to create, "append" to extend an existing stream.
func Open(path, status string) (uv *UV, err error) {
	defer bug.Recover(&err)
	uv = &UV{
		status:    status,
		varByName: make(map[string]*variable),
		preamble:  []string{"uv", "time", "baseline"},
	}
	switch status {
	case "old":
		ds, oerr := hio.Open(path, "old")
		bug.ThrowIfError(oerr)
		uv.ds = ds
		uv.readVartable()
		it, aerr := ds.Access(visdataItem, "read")
		bug.ThrowIfError(aerr)
		uv.item = it
		uv.size = uv.payloadSize()
		if !ds.HasItem(flagsItem) {
			uv.maskAbsent = true
		}
	case "new":
		ds, oerr := hio.Open(path, "new")
		bug.ThrowIfError(oerr)
		uv.ds = ds
		vt, aerr := ds.Access(vartableItem, "write")
		bug.ThrowIfError(aerr)
		uv.vtItem = vt
		it, aerr := ds.Access(visdataItem, "write")
		bug.ThrowIfError(aerr)
		uv.item = it
		// visdata is a byte-typed item; lay the code down now so the
		// stream origin is fixed even for an empty dataset
		bug.ThrowIfError(it.Write([]byte{}, 4, 0))
	case "append":
		ds, oerr := hio.Open(path, "append")
		bug.ThrowIfError(oerr)
		uv.ds = ds
		uv.readVartable()
		vt, aerr := ds.Access(vartableItem, "append")
		bug.ThrowIfError(aerr)
		uv.vtItem = vt
		it, aerr := ds.Access(visdataItem, "append")
		bug.ThrowIfError(aerr)
		uv.item = it
		uv.size = uv.payloadSize()
		uv.offset = uv.size
		// skip the existing records so flag bits line up
		uv.catchUpFlags()
	default:
		fail("open status must be old, new or append: "+status,
			hio.ErrBadStatus)
	}
	uv.isOpen = true
	return uv, nil
}

func (uv *UV) payloadSize() int64 {
	size, serr := uv.item.Size()
	bug.ThrowIfError(serr)
	if size < 4 {
		return 0
	}
	return size - 4
}

func (uv *UV) checkOpen() {
	if !uv.isOpen {
		bug.Throw(bug.ErrClosed)
	}
}

// catchUpFlags replays the existing stream to count channels, so that
// appended records continue the flags bit stream where it left off.
func (uv *UV) catchUpFlags() {
	saveOff := uv.offset
	uv.offset = 0
	for uv.scanRecord() {
		uv.flagOffset += int64(uv.channelCount())
	}
	uv.offset = saveOff
	for _, v := range uv.vars {
		v.updated = false
	}
}

// Dataset exposes the underlying dataset for header access.
func (uv *UV) Dataset() *hio.Dataset {
	return uv.ds
}

// Flush pushes buffered state to disk.
func (uv *UV) Flush() (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	if uv.mask != nil {
		bug.ThrowIfError(uv.mask.Flush())
	}
	return uv.ds.Flush()
}

// Close releases the stream and the dataset.
func (uv *UV) Close() (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	uv.isOpen = false
	if uv.mask != nil {
		bug.ThrowIfError(uv.mask.Close())
	}
	if uv.vtItem != nil {
		bug.ThrowIfError(uv.vtItem.Release())
	}
	bug.ThrowIfError(uv.item.Release())
	return uv.ds.Close()
}

// Rewind repositions a reading stream at its first record.
func (uv *UV) Rewind() (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	if uv.status != "old" {
		fail("rewind on a stream open for writing", ErrReadOnly)
	}
	uv.offset = 0
	uv.flagOffset = 0
	uv.lastFlagOff = 0
	uv.lastNChan = 0
	uv.visNo = 0
	for _, v := range uv.vars {
		v.updated = false
		v.data = nil
		v.nbytes = 0
	}
	return nil
}

// Next skips the remainder of the current record without decoding its
// correlator data. End of stream is not an error.
func (uv *UV) Next() (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	if uv.status != "old" {
		fail("next on a stream open for writing", ErrReadOnly)
	}
	if uv.scanRecord() {
		uv.flagOffset += int64(uv.channelCount())
	}
	return nil
}

func align(off int64, a int) int64 {
	return (off + int64(a) - 1) &^ (int64(a) - 1)
}

func (uv *UV) readStream(p []byte, off int64) {
	bug.ThrowIfError(uv.item.Read(p, 4+off, len(p)))
}

func (uv *UV) writeStream(p []byte, off int64) {
	bug.ThrowIfError(uv.item.Write(p, 4+off, len(p)))
	if off+int64(len(p)) > uv.size {
		uv.size = off + int64(len(p))
	}
}

// scanRecord consumes visdata entries up to and including the next
// end-of-record, updating variable values as it goes. It returns false
// at a clean end of stream.
func (uv *UV) scanRecord() bool {
	for _, v := range uv.vars {
		v.updated = false
	}
	for {
		if uv.offset+4 > uv.size {
			if uv.offset != uv.size {
				fail(fmt.Sprintf("visdata truncated at offset %d", uv.offset),
					ErrVisData)
			}
			return false
		}
		var hdr [4]byte
		uv.readStream(hdr[:], uv.offset)
		idx, kind := int(hdr[0]), int(hdr[1])
		s := uv.offset + 4
		switch kind {
		case entrySize:
			s = align(s, 4)
			var raw [4]byte
			uv.readStream(raw[:], s)
			n := int32(raw[0])<<24 | int32(raw[1])<<16 | int32(raw[2])<<8 | int32(raw[3])
			if n < 0 {
				fail("negative variable length in visdata", ErrVisData)
			}
			uv.varAt(idx).nbytes = int(n)
			uv.offset = align(s+4, 4)
		case entryData:
			v := uv.varAt(idx)
			if v.nbytes < 0 {
				fail("data entry before size entry for "+v.name, ErrVisData)
			}
			s = align(s, v.typ.Align())
			data := make([]byte, v.nbytes)
			uv.readStream(data, s)
			v.data = data
			v.updated = true
			uv.offset = align(s+int64(v.nbytes), 4)
		case entryEOR:
			uv.offset = align(s, 4)
			uv.visNo++
			return true
		default:
			fail(fmt.Sprintf("unknown visdata entry kind %d", kind), ErrVisData)
		}
	}
}

func (uv *UV) varAt(idx int) *variable {
	if idx < 0 || idx >= len(uv.vars) {
		fail(fmt.Sprintf("visdata names variable %d of %d", idx, len(uv.vars)),
			ErrVisData)
	}
	return uv.vars[idx]
}

// channelCount returns the correlator channel count of the current
// record, preferring the nchan variable and falling back to the corr
// data length.
func (uv *UV) channelCount() int {
	if v := uv.varByName["nchan"]; v != nil && v.data != nil {
		n, _ := v.asInts()
		if len(n) == 1 {
			return int(n[0])
		}
	}
	if v := uv.varByName["corr"]; v != nil && v.data != nil {
		return v.nbytes / types.Complex.Size()
	}
	return 0
}

// Read delivers the next selected visibility record: the preamble
// (4 or 5 doubles per the preamble layout), the correlator data and
// the channel flags (1 good, 0 bad). The return value is the number of
// channels delivered; zero means a clean end of stream. Buffers are
// validated before any stream access.
func (uv *UV) Read(preamble []float64, data []complex64, flags []int32, n int) (nread int, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	if uv.status != "old" {
		fail("read on a stream open for writing", ErrWriteOnly)
	}
	uv.checkReadBuffers(preamble, data, flags, n)
	for {
		if !uv.scanRecord() {
			return 0, nil
		}
		nchan := uv.channelCount()
		uv.lastFlagOff = uv.flagOffset
		uv.lastNChan = nchan
		uv.flagOffset += int64(nchan)
		if !uv.passesSelection() {
			continue
		}
		if nchan > n {
			nchan = n
		}
		uv.fillPreamble(preamble)
		corr := uv.varByName["corr"]
		if corr == nil || corr.data == nil {
			fail("record has no correlator data", ErrVisData)
		}
		cvals, cerr := corr.asComplex()
		bug.ThrowIfError(cerr)
		copy(data[:nchan], cvals)
		uv.readFlags(flags[:nchan], uv.lastFlagOff)
		return nchan, nil
	}
}

func (uv *UV) checkReadBuffers(preamble []float64, data []complex64, flags []int32, n int) {
	bug.ThrowIfError(types.Check("preamble", preamble, types.KindFloat, 8))
	if len(preamble) != len(uv.preambleVars()) {
		bug.Throw(&bug.ValidationError{Arg: "preamble",
			Check: fmt.Sprintf("must hold %d doubles for the %v layout",
				len(uv.preambleVars()), uv.preamble)})
	}
	bug.ThrowIfError(types.Check("data", data, types.KindComplex, 8))
	bug.ThrowIfError(types.CheckLen("data", data, n))
	bug.ThrowIfError(types.Check("flags", flags, types.KindInteger, 4))
	bug.ThrowIfError(types.CheckLen("flags", flags, n))
	if n < 0 {
		bug.Throw(&bug.ValidationError{Arg: "n", Check: "must not be negative"})
	}
}

// preambleVars expands the preamble layout into one name per double.
func (uv *UV) preambleVars() []string {
	var out []string
	for _, p := range uv.preamble {
		switch p {
		case "uv":
			out = append(out, "coord:u", "coord:v")
		case "uvw":
			out = append(out, "coord:u", "coord:v", "coord:w")
		default:
			out = append(out, p)
		}
	}
	return out
}

func (uv *UV) fillPreamble(preamble []float64) {
	coord := uv.doubles("coord")
	for i, name := range uv.preambleVars() {
		switch name {
		case "coord:u", "coord:v", "coord:w":
			j := int(name[6] - 'u')
			if j < len(coord) {
				preamble[i] = coord[j]
			} else {
				preamble[i] = 0
			}
		case "time":
			preamble[i] = uv.double("time")
		case "baseline":
			preamble[i] = uv.double("baseline")
		default:
			preamble[i] = uv.double(name)
		}
	}
}

// doubles returns the current value of a numeric variable widened to
// float64s, or nil if it has no value.
func (uv *UV) doubles(name string) []float64 {
	v := uv.varByName[name]
	if v == nil || v.data == nil {
		return nil
	}
	out, derr := v.asDoubles()
	bug.ThrowIfError(derr)
	return out
}

func (uv *UV) double(name string) float64 {
	d := uv.doubles(name)
	if len(d) == 0 {
		return 0
	}
	return d[0]
}

func (uv *UV) readFlags(flags []int32, bitOff int64) {
	if uv.maskAbsent {
		for i := range flags {
			flags[i] = 1
		}
		return
	}
	uv.needMask()
	_, merr := uv.mask.Read(maskio.Flags, flags, bitOff, len(flags))
	bug.ThrowIfError(merr)
}

func (uv *UV) needMask() {
	if uv.mask != nil {
		return
	}
	status := "old"
	if uv.status == "new" {
		status = "new"
	}
	mk, merr := maskio.MkOpen(uv.ds, flagsItem, status)
	bug.ThrowIfError(merr)
	uv.mask = mk
}

// Write appends one visibility record: pending variable changes, the
// preamble, the correlator data and its flags.
func (uv *UV) Write(preamble []float64, data []complex64, flags []int32, n int) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	if uv.status == "old" {
		fail("write on a stream open for reading", ErrReadOnly)
	}
	uv.checkReadBuffers(preamble, data, flags, n)
	uv.storePreamble(preamble)
	bug.ThrowIfError(uv.putRaw("nchan", types.Int32, encodeInts([]int32{int32(n)})))
	bug.ThrowIfError(uv.putRaw("corr", types.Complex, encodeComplex(data[:n])))
	uv.flushVars()
	uv.writeEOR()
	uv.needMask()
	bug.ThrowIfError(uv.mask.Write(maskio.Flags, flags, uv.flagOffset, n))
	uv.flagOffset += int64(n)
	uv.visNo++
	return nil
}

func (uv *UV) storePreamble(preamble []float64) {
	names := uv.preambleVars()
	var coord []float64
	i := 0
	for _, name := range names {
		switch name {
		case "coord:u", "coord:v", "coord:w":
			coord = append(coord, preamble[i])
		case "time":
			bug.ThrowIfError(uv.putRaw("time", types.Double,
				encodeDoubles(preamble[i:i+1])))
		case "baseline":
			bug.ThrowIfError(uv.putRaw("baseline", types.Real,
				encodeFloats([]float32{float32(preamble[i])})))
		default:
			bug.ThrowIfError(uv.putRaw(name, types.Double,
				encodeDoubles(preamble[i:i+1])))
		}
		i++
	}
	if coord != nil {
		bug.ThrowIfError(uv.putRaw("coord", types.Double, encodeDoubles(coord)))
	}
}

// flushVars emits size and data entries for every variable changed
// since the last record, in variable-table order.
func (uv *UV) flushVars() {
	for _, v := range uv.vars {
		if !v.pending {
			continue
		}
		if v.nbytes != len(v.data) {
			v.nbytes = len(v.data)
			uv.writeSizeEntry(v)
		}
		uv.writeDataEntry(v)
		v.pending = false
		v.updated = true
	}
}

func (uv *UV) writeSizeEntry(v *variable) {
	hdr := []byte{byte(v.index), entrySize, 0, 0}
	uv.writeStream(hdr, uv.offset)
	s := align(uv.offset+4, 4)
	raw := []byte{byte(v.nbytes >> 24), byte(v.nbytes >> 16),
		byte(v.nbytes >> 8), byte(v.nbytes)}
	uv.writeStream(raw, s)
	uv.offset = align(s+4, 4)
}

func (uv *UV) writeDataEntry(v *variable) {
	hdr := []byte{byte(v.index), entryData, 0, 0}
	uv.writeStream(hdr, uv.offset)
	s := align(uv.offset+4, v.typ.Align())
	if pad := s - (uv.offset + 4); pad > 0 {
		uv.writeStream(make([]byte, pad), uv.offset+4)
	}
	uv.writeStream(v.data, s)
	end := align(s+int64(len(v.data)), 4)
	if pad := end - s - int64(len(v.data)); pad > 0 {
		uv.writeStream(make([]byte, pad), s+int64(len(v.data)))
	}
	uv.offset = end
}

func (uv *UV) writeEOR() {
	uv.writeStream([]byte{0, entryEOR, 0, 0}, uv.offset)
	uv.offset += 4
}

// RewriteFlags replaces the flags of the record most recently read.
func (uv *UV) RewriteFlags(flags []int32) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	bug.ThrowIfError(types.Check("flags", flags, types.KindInteger, 4))
	if uv.lastNChan == 0 {
		bug.Throw(&bug.ValidationError{Arg: "flags",
			Check: "no record has been read"})
	}
	bug.ThrowIfError(types.CheckLen("flags", flags, uv.lastNChan))
	uv.maskAbsent = false
	uv.needMask()
	return uv.mask.Write(maskio.Flags, flags, uv.lastFlagOff, uv.lastNChan)
}

// SetPreambleType chooses the preamble layout for subsequent reads and
// writes: some of "uv" or "uvw", then "time", then "baseline", for a
// total width of 4 or 5 doubles.
func (uv *UV) SetPreambleType(vars ...string) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	width := 0
	for _, p := range vars {
		switch p {
		case "uv":
			width += 2
		case "uvw":
			width += 3
		case "time", "baseline":
			width++
		default:
			bug.Throw(&bug.ValidationError{Arg: "vars",
				Check: "unknown preamble component " + p})
		}
	}
	if width != 4 && width != 5 {
		fail(fmt.Sprintf("preamble layout %v is %d doubles wide", vars, width),
			ErrBadPreamble)
	}
	uv.preamble = append([]string(nil), vars...)
	return nil
}

// VisNum returns the one-based number of the record most recently
// read or written, zero before the first.
func (uv *UV) VisNum() int64 {
	return uv.visNo
}

// LineInfo describes the correlator line of the record most recently
// read: linetype, channel count, start channel, width and step. Only
// whole-channel lines are produced.
func (uv *UV) LineInfo() (linetype string, nchan, start, width, step int) {
	return "channel", uv.lastNChan, 1, 1, 1
}

// baselineAnts splits the packed baseline number into its antenna
// pair.
func baselineAnts(bl float64) (int, int) {
	b := int(math.Round(bl))
	return b / 256, b % 256
}

// EncodeBaseline packs an antenna pair into the baseline convention
// carried in the preamble.
func EncodeBaseline(ant1, ant2 int) float64 {
	return float64(256*ant1 + ant2)
}
