package hio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/types"
)

// The header accessor: typed scalar reads and writes on top of item
// I/O, with the probe taxonomy used to decide what a header item is
// before committing to a typed read.

// Probe describes the named item without opening it for data access.
// The type name is one of the probe vocabulary: "nonexistent",
// "unknown", "binary", "text", "character", "integer*2", "integer",
// "integer*8", "real", "double" or "complex". The count is the number
// of elements of that type (bytes for text and binary). The
// description encodes the item's value when it is compact: the
// formatted scalar for single-element numeric items, the string for
// character items, the first line for text items; otherwise it
// summarizes the item.
func (ds *Dataset) Probe(name string) (descr, typeName string, count int, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	// reserved names probe as nonexistent rather than erroring
	if name == headerItem || !ds.HasItem(name) {
		return "nonexistent", "nonexistent", 0, nil
	}
	it, aerr := ds.Access(name, "read")
	bug.ThrowIfError(aerr)
	defer it.Release()
	typeName, count = it.probe()
	return it.describe(typeName, count), typeName, count, nil
}

// describe formats the preview half of a probe.
func (it *Item) describe(typeName string, count int) string {
	switch typeName {
	case "unknown", "binary":
		return fmt.Sprintf("(%s item, %d bytes)", typeName, count)
	case "character":
		return it.readString(count)
	case "text":
		head := make([]byte, 64)
		n := it.readAt(head, 0)
		if i := bytes.IndexByte(head[:n], '\n'); i >= 0 {
			n = i
		}
		return string(head[:n])
	}
	if count != 1 {
		return fmt.Sprintf("(%d elements)", count)
	}
	switch it.itemType {
	case types.Int16, types.Int32:
		buf := make([]int32, 1)
		it.readScalar(buf)
		return fmt.Sprintf("%d", buf[0])
	case types.Int64:
		buf := make([]int64, 1)
		it.readScalar(buf)
		return fmt.Sprintf("%d", buf[0])
	case types.Real:
		buf := make([]float32, 1)
		it.readScalar(buf)
		return fmt.Sprintf("%g", buf[0])
	case types.Double:
		buf := make([]float64, 1)
		it.readScalar(buf)
		return fmt.Sprintf("%g", buf[0])
	case types.Complex:
		buf := make([]complex64, 1)
		it.readScalar(buf)
		return fmt.Sprintf("(%g,%g)", real(buf[0]), imag(buf[0]))
	}
	panic("not reached")
}

func (it *Item) probe() (string, int) {
	size := it.size()
	if size == 0 {
		return "unknown", 0
	}
	t := it.itemType
	if t == types.Text {
		if it.looksTextual(size) {
			return "text", int(size)
		}
		return "binary", int(size)
	}
	n := size - t.Offset()
	if n < 0 || n%int64(t.Size()) != 0 {
		return "binary", int(size)
	}
	return t.Name(), int(n / int64(t.Size()))
}

// looksTextual checks the leading bytes for anything outside printable
// ASCII plus the usual whitespace.
func (it *Item) looksTextual(size int64) bool {
	n := size
	if n > 128 {
		n = 128
	}
	head := make([]byte, n)
	got := it.readAt(head, 0)
	for _, c := range head[:got] {
		if c == '\n' || c == '\t' || c == '\r' {
			continue
		}
		if c < ' ' || c > '~' {
			return false
		}
	}
	return true
}

// RdHead is the strict header read: the item must exist and hold a
// single representable value. Absence is ErrNotPresent; binary,
// unknown or multi-line text content is ErrUnsupportedHeaderType; a
// numeric item with more than one element is a validation error. The
// returned value is int32, int64, float32, float64, complex64 or
// string according to the stored type.
func (ds *Dataset) RdHead(name string) (value any, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return nil, bug.ErrNotPresent
	}
	it, aerr := ds.Access(name, "read")
	bug.ThrowIfError(aerr)
	defer it.Release()
	typeName, count := it.probe()
	switch typeName {
	case "unknown", "binary":
		return nil, bug.ErrUnsupportedHeaderType
	case "text":
		line, rerr := it.ReadLine()
		bug.ThrowIfError(rerr)
		if _, rerr = it.ReadLine(); rerr != io.EOF {
			return nil, bug.ErrUnsupportedHeaderType
		}
		return line, nil
	case "character":
		return it.readString(count), nil
	}
	if count != 1 {
		bug.Throw(&bug.ValidationError{Arg: name,
			Check: fmt.Sprintf("must hold one scalar, holds %d elements", count)})
	}
	t := it.itemType
	switch t {
	case types.Int16:
		buf := make([]int32, 1)
		it.readScalar(buf)
		return buf[0], nil
	case types.Int32:
		buf := make([]int32, 1)
		it.readScalar(buf)
		return buf[0], nil
	case types.Int64:
		buf := make([]int64, 1)
		it.readScalar(buf)
		return buf[0], nil
	case types.Real:
		buf := make([]float32, 1)
		it.readScalar(buf)
		return buf[0], nil
	case types.Double:
		buf := make([]float64, 1)
		it.readScalar(buf)
		return buf[0], nil
	case types.Complex:
		buf := make([]complex64, 1)
		it.readScalar(buf)
		return buf[0], nil
	}
	return nil, bug.ErrUnsupportedHeaderType
}

// readScalar reads one element at the item's data offset. Int16 items
// are widened into the caller's int32 buffer rather than loaded
// narrow.
func (it *Item) readScalar(buf any) {
	t := it.itemType
	if t == types.Int16 {
		narrow := make([]int16, 1)
		bug.ThrowIfError(it.Read(narrow, t.Offset(), 1))
		buf.([]int32)[0] = int32(narrow[0])
		return
	}
	bug.ThrowIfError(it.Read(buf, t.Offset(), 1))
}

func (it *Item) readString(count int) string {
	buf := make([]byte, count)
	n := it.readAt(buf, it.itemType.Offset())
	return string(buf[:n])
}

// The lenient typed readers return the supplied default when the item
// is absent, with no error. Numeric items convert across widths the
// way the original header layer always has, so a "real" default reads
// a stored double without complaint.

func (ds *Dataset) rdNumeric(name string) (value float64, stored types.Type, err error) {
	defer bug.Recover(&err)
	it, aerr := ds.Access(name, "read")
	bug.ThrowIfError(aerr)
	defer it.Release()
	t := it.itemType
	switch t {
	case types.Int16:
		buf := make([]int32, 1)
		it.readScalar(buf)
		return float64(buf[0]), t, nil
	case types.Int32:
		buf := make([]int32, 1)
		it.readScalar(buf)
		return float64(buf[0]), t, nil
	case types.Int64:
		buf := make([]int64, 1)
		it.readScalar(buf)
		return float64(buf[0]), t, nil
	case types.Real:
		buf := make([]float32, 1)
		it.readScalar(buf)
		return float64(buf[0]), t, nil
	case types.Double:
		buf := make([]float64, 1)
		it.readScalar(buf)
		return buf[0], t, nil
	}
	return 0, t, bug.ErrUnsupportedHeaderType
}

// RdHeadInt reads an integer header item, returning def when absent.
func (ds *Dataset) RdHeadInt(name string, def int32) (value int32, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return def, nil
	}
	v, _, rerr := ds.rdNumeric(name)
	bug.ThrowIfError(rerr)
	return int32(v), nil
}

// RdHeadInt64 reads a long integer header item, returning def when
// absent.
func (ds *Dataset) RdHeadInt64(name string, def int64) (value int64, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return def, nil
	}
	v, _, rerr := ds.rdNumeric(name)
	bug.ThrowIfError(rerr)
	return int64(v), nil
}

// RdHeadReal reads a real header item, returning def when absent.
func (ds *Dataset) RdHeadReal(name string, def float32) (value float32, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return def, nil
	}
	v, _, rerr := ds.rdNumeric(name)
	bug.ThrowIfError(rerr)
	return float32(v), nil
}

// RdHeadDouble reads a double header item, returning def when absent.
func (ds *Dataset) RdHeadDouble(name string, def float64) (value float64, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return def, nil
	}
	v, _, rerr := ds.rdNumeric(name)
	bug.ThrowIfError(rerr)
	return v, nil
}

// RdHeadComplex reads a complex header item, returning def when
// absent.
func (ds *Dataset) RdHeadComplex(name string, def complex64) (value complex64, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return def, nil
	}
	it, aerr := ds.Access(name, "read")
	bug.ThrowIfError(aerr)
	defer it.Release()
	if it.itemType != types.Complex {
		v, _, rerr := ds.rdNumeric(name)
		bug.ThrowIfError(rerr)
		return complex(float32(v), 0), nil
	}
	buf := make([]complex64, 1)
	it.readScalar(buf)
	return buf[0], nil
}

// RdHeadString reads a character header item, returning def when
// absent.
func (ds *Dataset) RdHeadString(name string, def string) (value string, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return def, nil
	}
	it, aerr := ds.Access(name, "read")
	bug.ThrowIfError(aerr)
	defer it.Release()
	typeName, count := it.probe()
	switch typeName {
	case "character":
		return it.readString(count), nil
	case "text":
		line, rerr := it.ReadLine()
		bug.ThrowIfError(rerr)
		return line, nil
	}
	return "", bug.ErrUnsupportedHeaderType
}

// RdHeadArray reads all elements of a typed header item into buf,
// which must match the stored type. Returns the element count.
func (ds *Dataset) RdHeadArray(name string, buf any) (n int, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if !ds.HasItem(name) {
		return 0, bug.ErrNotPresent
	}
	it, aerr := ds.Access(name, "read")
	bug.ThrowIfError(aerr)
	defer it.Release()
	t := it.itemType
	if !types.Valid(t) || t == types.Text {
		return 0, bug.ErrUnsupportedHeaderType
	}
	size := it.size()
	count := int((size - t.Offset()) / int64(t.Size()))
	bug.ThrowIfError(types.CheckLen(name, buf, count))
	bug.ThrowIfError(it.Read(buf, t.Offset(), count))
	return count, nil
}

func (ds *Dataset) wrScalar(name string, buf any) {
	checkItemName(name)
	it, aerr := ds.Access(name, "write")
	bug.ThrowIfError(aerr)
	t, terr := types.Infer(buf)
	bug.ThrowIfError(terr)
	bug.ThrowIfError(it.Write(buf, t.Offset(), 1))
	bug.ThrowIfError(it.Release())
}

// WrHeadInt writes an integer header item.
func (ds *Dataset) WrHeadInt(name string, value int32) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.wrScalar(name, []int32{value})
	return nil
}

// WrHeadInt64 writes a long integer header item.
func (ds *Dataset) WrHeadInt64(name string, value int64) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.wrScalar(name, []int64{value})
	return nil
}

// WrHeadReal writes a real header item.
func (ds *Dataset) WrHeadReal(name string, value float32) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.wrScalar(name, []float32{value})
	return nil
}

// WrHeadDouble writes a double header item.
func (ds *Dataset) WrHeadDouble(name string, value float64) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.wrScalar(name, []float64{value})
	return nil
}

// WrHeadComplex writes a complex header item.
func (ds *Dataset) WrHeadComplex(name string, value complex64) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.wrScalar(name, []complex64{value})
	return nil
}

// WrHeadString writes a character header item.
func (ds *Dataset) WrHeadString(name string, value string) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	it, aerr := ds.Access(name, "write")
	bug.ThrowIfError(aerr)
	it.itemType = types.Byte
	var code [4]byte
	code[3] = byte(types.Byte)
	it.writeAt(code[:], 0)
	it.writeAt([]byte(value), types.Byte.Offset())
	bug.ThrowIfError(it.Release())
	return nil
}

// WrHeadArray writes all elements of buf as a typed header item.
func (ds *Dataset) WrHeadArray(name string, buf any) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	it, aerr := ds.Access(name, "write")
	bug.ThrowIfError(aerr)
	t, terr := types.Infer(buf)
	bug.ThrowIfError(terr)
	bug.ThrowIfError(it.Write(buf, t.Offset(), sliceLen(buf)))
	bug.ThrowIfError(it.Release())
	return nil
}

func sliceLen(buf any) int {
	switch b := buf.(type) {
	case []byte:
		return len(b)
	case []int16:
		return len(b)
	case []int32:
		return len(b)
	case []int64:
		return len(b)
	case []float32:
		return len(b)
	case []float64:
		return len(b)
	case []complex64:
		return len(b)
	}
	return 0
}

// HeadCopy copies the named item verbatim into another dataset.
func (ds *Dataset) HeadCopy(dst *Dataset, name string) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	dst.checkOpen()
	checkItemName(name)
	src, aerr := ds.Access(name, "read")
	bug.ThrowIfError(aerr)
	defer src.Release()
	out, aerr := dst.Access(name, "write")
	bug.ThrowIfError(aerr)
	size := src.size()
	data := make([]byte, size)
	n := src.readAt(data, 0)
	assert(int64(n) == size, "short read copying "+name, ErrCorrupted)
	out.writeAt(data, 0)
	out.itemType = src.itemType
	bug.ThrowIfError(out.Release())
	return nil
}

const historyItem = "history"

// OpenHistory opens the dataset's history item for appending.
func (ds *Dataset) OpenHistory() (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	assert(ds.history == nil, "history already open", ErrBadStatus)
	it, aerr := ds.Access(historyItem, "append")
	bug.ThrowIfError(aerr)
	ds.history = it
	return nil
}

// WriteHistory appends one line to the history item.
func (ds *Dataset) WriteHistory(line string) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	assert(ds.history != nil, "history not open", ErrBadStatus)
	return ds.history.WriteLine(line)
}

// CloseHistory releases the history item.
func (ds *Dataset) CloseHistory() (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	assert(ds.history != nil, "history not open", ErrBadStatus)
	rerr := ds.history.Release()
	ds.history = nil
	return rerr
}
