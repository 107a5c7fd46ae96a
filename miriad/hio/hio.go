// Package hio implements the MIRIAD dataset container: a directory of
// named items, each a flat byte stream. Small items are packed into the
// dataset's header file; larger ones are separate files. Typed block
// I/O validates every buffer before a byte is moved.
package hio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/miriadio/go-native-miriad/internal"
	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/types"
)

const (
	headerItem    = "header" // the packed small-item file
	nameFieldLen  = 15
	recordAlign   = 16
	itemCacheSize = 64 // largest item packed into the header file
	// MaxLineLength bounds line-oriented text reads and writes.
	MaxLineLength = 512
)

var (
	ErrBadStatus    = errors.New("unrecognized open status")
	ErrBadItemName  = errors.New("invalid item name")
	ErrItemReserved = errors.New("item name is reserved")
	ErrBadOffset    = errors.New("misaligned or out-of-range offset")
	ErrTypeMismatch = errors.New("buffer type does not match item type")
	ErrCorrupted    = errors.New("corrupted dataset")
)

var logger = internal.NewLogger()

// SetLogLevel sets the package logging level and returns the old one.
// 0 logs almost nothing; 3 logs debug chatter.
func SetLogLevel(level int) int {
	old := logger.LogLevel()
	switch level {
	case 0:
		logger.SetLogLevel(internal.LevelFatal)
	case 1:
		logger.SetLogLevel(internal.LevelError)
	case 2:
		logger.SetLogLevel(internal.LevelWarn)
	default:
		logger.SetLogLevel(internal.LevelInfo)
	}
	return int(old)
}

func fail(message string, err error) {
	logger.Error(message)
	bug.Throw(err)
}

func assert(condition bool, message string, err error) {
	if condition {
		return
	}
	fail(message, err)
}

// Dataset is an open MIRIAD dataset. All item operations require a
// live handle; handles carry no locking and are caller-serialized.
type Dataset struct {
	path    string
	mode    string
	header  map[string][]byte // small items packed in the header file
	horder  []string          // header file record order
	history *Item
	dirty   bool
	isOpen  bool
}

// Open opens or creates the dataset directory at path. Status is one
// of "old" (read-write existing), "new" (create) or "append"
// (write-only existing).
func Open(path, status string) (ds *Dataset, err error) {
	defer bug.Recover(&err)
	switch status {
	case "old", "append":
		fi, serr := os.Stat(path)
		if serr != nil {
			bug.ThrowIO("open dataset "+path, serr)
		}
		assert(fi.IsDir(), path+" is not a dataset directory", ErrCorrupted)
		ds = &Dataset{path: path, mode: status, isOpen: true}
		ds.readHeader()
	case "new":
		if merr := os.Mkdir(path, 0o777); merr != nil {
			bug.ThrowIO("create dataset "+path, merr)
		}
		ds = &Dataset{path: path, mode: status, isOpen: true, dirty: true}
		ds.header = make(map[string][]byte)
	default:
		fail("open status must be old, new or append: "+status, ErrBadStatus)
	}
	return ds, nil
}

func (ds *Dataset) checkOpen() {
	if !ds.isOpen {
		bug.Throw(bug.ErrClosed)
	}
}

// Path returns the dataset directory.
func (ds *Dataset) Path() string {
	return ds.path
}

// Mode returns the status the dataset was opened with.
func (ds *Dataset) Mode() string {
	return ds.mode
}

// IsOpen reports whether the handle is still live.
func (ds *Dataset) IsOpen() bool {
	return ds.isOpen
}

// Flush writes out pending header-file changes.
func (ds *Dataset) Flush() (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.flush()
	return nil
}

func (ds *Dataset) flush() {
	if !ds.dirty {
		return
	}
	ds.writeHeader()
	ds.dirty = false
}

// Close flushes and closes the dataset. Items accessed from it must be
// released separately.
func (ds *Dataset) Close() (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.flush()
	ds.isOpen = false
	return nil
}

// Delete removes the entire dataset from disk and invalidates the
// handle.
func (ds *Dataset) Delete() (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	ds.isOpen = false
	if rerr := os.RemoveAll(ds.path); rerr != nil {
		bug.ThrowIO("delete dataset "+ds.path, rerr)
	}
	return nil
}

// DeleteItem removes one named item.
func (ds *Dataset) DeleteItem(name string) (err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	if _, has := ds.header[name]; has {
		delete(ds.header, name)
		for i, n := range ds.horder {
			if n == name {
				ds.horder = append(ds.horder[:i], ds.horder[i+1:]...)
				break
			}
		}
		ds.dirty = true
		return nil
	}
	if rerr := os.Remove(filepath.Join(ds.path, name)); rerr != nil {
		bug.ThrowIO("delete item "+name, rerr)
	}
	return nil
}

// HasItem reports whether the named item exists, without opening it.
func (ds *Dataset) HasItem(name string) bool {
	if !ds.isOpen || !internal.IsValidItemName(name) {
		return false
	}
	if _, has := ds.header[name]; has {
		return true
	}
	_, serr := os.Stat(filepath.Join(ds.path, name))
	return serr == nil
}

// ItemNames lists the dataset's items, header-resident ones first in
// header order, then file items sorted by name.
func (ds *Dataset) ItemNames() (names []string, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	names = append(names, ds.horder...)
	entries, derr := os.ReadDir(ds.path)
	if derr != nil {
		bug.ThrowIO("list dataset "+ds.path, derr)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == headerItem {
			continue
		}
		if internal.IsValidItemName(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return append(names, files...), nil
}

func checkItemName(name string) {
	if !internal.IsValidItemName(name) {
		fail("invalid item name: "+name, ErrBadItemName)
	}
	if name == headerItem {
		fail("the header item cannot be accessed directly", ErrItemReserved)
	}
}

func roundRecord(n int) int {
	return (n + recordAlign - 1) &^ (recordAlign - 1)
}

// The header file is a sequence of 16-byte-aligned records: a 15-byte
// NUL-padded name, one length byte, then the item data padded to the
// next 16-byte boundary.
func (ds *Dataset) readHeader() {
	ds.header = make(map[string][]byte)
	ds.horder = nil
	f, oerr := os.Open(filepath.Join(ds.path, headerItem))
	if oerr != nil {
		if errors.Is(oerr, fs.ErrNotExist) {
			return // legal: a bare new dataset
		}
		bug.ThrowIO("open header file", oerr)
	}
	defer f.Close()
	for {
		var rec [recordAlign]byte
		_, rerr := io.ReadFull(f, rec[:])
		if rerr == io.EOF {
			break
		}
		bug.ThrowIfError(rerr)
		name := string(bytes.TrimRight(rec[:nameFieldLen], "\x00"))
		dlen := int(rec[nameFieldLen])
		assert(dlen <= itemCacheSize, "oversized header record", ErrCorrupted)
		padded := roundRecord(recordAlign+dlen) - recordAlign
		data := make([]byte, padded)
		_, rerr = io.ReadFull(f, data)
		bug.ThrowIfError(rerr)
		assert(internal.IsValidItemName(name) || name == "",
			"bad name in header file: "+name, ErrCorrupted)
		if name == "" {
			continue
		}
		ds.header[name] = data[:dlen]
		ds.horder = append(ds.horder, name)
	}
}

func (ds *Dataset) writeHeader() {
	var buf bytes.Buffer
	for _, name := range ds.horder {
		data := ds.header[name]
		var rec [recordAlign]byte
		copy(rec[:nameFieldLen], name)
		rec[nameFieldLen] = byte(len(data))
		buf.Write(rec[:])
		buf.Write(data)
		pad := roundRecord(recordAlign+len(data)) - recordAlign - len(data)
		buf.Write(make([]byte, pad))
	}
	werr := os.WriteFile(filepath.Join(ds.path, headerItem), buf.Bytes(), 0o666)
	if werr != nil {
		bug.ThrowIO("write header file", werr)
	}
}

func (ds *Dataset) setSmallItem(name string, data []byte) {
	if _, has := ds.header[name]; !has {
		ds.horder = append(ds.horder, name)
	}
	ds.header[name] = data
	ds.dirty = true
}

// Item is an open handle on one named byte-addressable sub-stream of a
// dataset. It owns a byte cursor for the line-oriented calls; typed
// block I/O addresses explicit offsets.
type Item struct {
	ds       *Dataset
	name     string
	fname    string // on-disk name; differs for scratch items
	status   string
	f        *os.File
	buf      []byte // header-resident items are served from memory
	pos      int64
	itemType types.Type // 0 until known
	scratch  bool
	isOpen   bool
}

// Access opens one named item. Status is "read", "write" (create or
// truncate), "append" or "scratch" (anonymous temporary, removed on
// release). The returned item must be released separately from the
// dataset close.
func (ds *Dataset) Access(name, status string) (it *Item, err error) {
	defer bug.Recover(&err)
	ds.checkOpen()
	checkItemName(name)
	it = &Item{ds: ds, name: name, fname: name, status: status, isOpen: true}
	switch status {
	case "read":
		if data, has := ds.header[name]; has {
			it.buf = data
			it.sniffType(data)
			return it, nil
		}
		f, oerr := os.Open(filepath.Join(ds.path, name))
		if oerr != nil {
			bug.ThrowIO("access item "+name, oerr)
		}
		it.f = f
		it.sniffFileType()
	case "write":
		f, oerr := os.OpenFile(filepath.Join(ds.path, name),
			os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
		if oerr != nil {
			bug.ThrowIO("create item "+name, oerr)
		}
		it.f = f
		// a rewritten item supersedes any packed copy
		if _, has := ds.header[name]; has {
			delete(ds.header, name)
			for i, n := range ds.horder {
				if n == name {
					ds.horder = append(ds.horder[:i], ds.horder[i+1:]...)
					break
				}
			}
			ds.dirty = true
		}
	case "append":
		ds.spill(name)
		f, oerr := os.OpenFile(filepath.Join(ds.path, name),
			os.O_RDWR|os.O_CREATE, 0o666)
		if oerr != nil {
			bug.ThrowIO("append item "+name, oerr)
		}
		it.f = f
		it.sniffFileType()
		it.pos = it.size()
	case "scratch":
		it.fname = name + "." + uuid.NewString()[:8]
		f, oerr := os.OpenFile(filepath.Join(ds.path, it.fname),
			os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
		if oerr != nil {
			bug.ThrowIO("create scratch item "+name, oerr)
		}
		it.f = f
		it.scratch = true
	default:
		fail("item status must be read, write, append or scratch: "+status,
			ErrBadStatus)
	}
	return it, nil
}

// spill moves a header-resident item out to its own file so it can be
// extended.
func (ds *Dataset) spill(name string) {
	data, has := ds.header[name]
	if !has {
		return
	}
	werr := os.WriteFile(filepath.Join(ds.path, name), data, 0o666)
	if werr != nil {
		bug.ThrowIO("spill item "+name, werr)
	}
	delete(ds.header, name)
	for i, n := range ds.horder {
		if n == name {
			ds.horder = append(ds.horder[:i], ds.horder[i+1:]...)
			break
		}
	}
	ds.dirty = true
}

func (it *Item) sniffType(head []byte) {
	if len(head) == 0 {
		return
	}
	if len(head) >= 4 {
		code := types.Type(int32(binary.BigEndian.Uint32(head[:4])))
		if types.Valid(code) {
			it.itemType = code
			return
		}
	}
	it.itemType = types.Text
}

func (it *Item) sniffFileType() {
	var head [4]byte
	n, rerr := it.f.ReadAt(head[:], 0)
	if rerr != nil && rerr != io.EOF {
		bug.ThrowIO("probe item "+it.name, rerr)
	}
	it.sniffType(head[:n])
}

func (it *Item) checkOpen() {
	if !it.isOpen {
		bug.Throw(bug.ErrClosed)
	}
}

// Type returns the item's element type, or 0 if the item is still
// empty.
func (it *Item) Type() types.Type {
	return it.itemType
}

// Size returns the item size in bytes.
func (it *Item) Size() (n int64, err error) {
	defer bug.Recover(&err)
	it.checkOpen()
	return it.size(), nil
}

func (it *Item) size() int64 {
	if it.f == nil {
		return int64(len(it.buf))
	}
	fi, serr := it.f.Stat()
	if serr != nil {
		bug.ThrowIO("stat item "+it.name, serr)
	}
	return fi.Size()
}

// Seek positions the line-oriented cursor at an absolute byte offset.
func (it *Item) Seek(offset int64) (err error) {
	defer bug.Recover(&err)
	it.checkOpen()
	assert(offset >= 0, "negative seek", ErrBadOffset)
	it.pos = offset
	return nil
}

// Tell returns the cursor position.
func (it *Item) Tell() int64 {
	return it.pos
}

func (it *Item) readAt(p []byte, off int64) int {
	if it.f == nil {
		if off >= int64(len(it.buf)) {
			return 0
		}
		return copy(p, it.buf[off:])
	}
	n, rerr := it.f.ReadAt(p, off)
	if rerr != nil && rerr != io.EOF {
		bug.ThrowIO("read item "+it.name, rerr)
	}
	return n
}

func (it *Item) writeAt(p []byte, off int64) {
	if it.f == nil {
		fail("item "+it.name+" is read-only", ErrBadStatus)
	}
	if _, werr := it.f.WriteAt(p, off); werr != nil {
		bug.ThrowIO("write item "+it.name, werr)
	}
}

// ReadLine reads one newline-terminated text line at the cursor,
// without the terminator. At end of item it returns io.EOF.
func (it *Item) ReadLine() (line string, err error) {
	defer bug.Recover(&err)
	it.checkOpen()
	var chunk [MaxLineLength]byte
	n := it.readAt(chunk[:], it.pos)
	if n == 0 {
		return "", io.EOF
	}
	i := bytes.IndexByte(chunk[:n], '\n')
	if i < 0 {
		assert(n < MaxLineLength, "text line too long", ErrBadOffset)
		it.pos += int64(n)
		return string(chunk[:n]), nil
	}
	it.pos += int64(i + 1)
	return string(chunk[:i]), nil
}

// WriteLine appends one text line at the cursor. Text items carry no
// type code on disk.
func (it *Item) WriteLine(line string) (err error) {
	defer bug.Recover(&err)
	it.checkOpen()
	assert(len(line) < MaxLineLength, "text line too long", ErrBadOffset)
	if it.itemType == 0 {
		it.itemType = types.Text
	}
	assert(it.itemType == types.Text,
		"line I/O on a binary item", ErrTypeMismatch)
	it.writeAt(append([]byte(line), '\n'), it.pos)
	it.pos += int64(len(line) + 1)
	return nil
}

// Read fills buf with count elements starting at the given byte
// offset. The element type is taken from the buffer; it must agree in
// kind and exact width with the item's stored type, and the offset
// must be element-aligned and past the type code. All checks complete
// before any I/O happens.
func (it *Item) Read(buf any, offset int64, count int) (err error) {
	defer bug.Recover(&err)
	it.checkOpen()
	t := it.prepare(buf, offset, count, false)
	raw := make([]byte, count*t.Size())
	n := it.readAt(raw, offset)
	assert(n == len(raw),
		fmt.Sprintf("short read on item %s: %d of %d bytes", it.name, n, len(raw)),
		ErrCorrupted)
	bug.ThrowIfError(binary.Read(bytes.NewReader(raw), binary.BigEndian,
		truncate(buf, count)))
	return nil
}

// Write stores count elements from buf at the given byte offset. The
// first write to a fresh item fixes the item's type and lays down its
// type code.
func (it *Item) Write(buf any, offset int64, count int) (err error) {
	defer bug.Recover(&err)
	it.checkOpen()
	it.prepare(buf, offset, count, true)
	var out bytes.Buffer
	bug.ThrowIfError(binary.Write(&out, binary.BigEndian, truncate(buf, count)))
	it.writeAt(out.Bytes(), offset)
	return nil
}

// prepare runs the full validation ladder for a typed transfer:
// buffer kind and width against the item type, then capacity, then
// offset legality. Returns the element type in effect.
func (it *Item) prepare(buf any, offset int64, count int, writing bool) types.Type {
	t, terr := types.Infer(buf)
	bug.ThrowIfError(terr)
	expected := it.itemType
	if expected == 0 {
		assert(writing, "typed read from an empty item", ErrTypeMismatch)
		expected = t
	}
	if expected == types.Text {
		// raw byte access to text items is legal; anything else is not
		assert(t == types.Byte, "typed I/O on a text item", ErrTypeMismatch)
		bug.ThrowIfError(types.CheckLen("buf", buf, count))
		assert(offset >= 0 && count >= 0, "bad offset or count", ErrBadOffset)
		return t
	}
	bug.ThrowIfError(types.Check("buf", buf, expected.Kind(), expected.Size()))
	bug.ThrowIfError(types.CheckLen("buf", buf, count))
	assert(count >= 0, "negative count", ErrBadOffset)
	assert(offset >= expected.Offset(), "offset overlaps the type code", ErrBadOffset)
	assert(offset%int64(expected.Align()) == 0, "misaligned offset", ErrBadOffset)
	if writing && it.itemType == 0 {
		it.itemType = expected
		var code [4]byte
		binary.BigEndian.PutUint32(code[:], uint32(expected))
		pad := make([]byte, expected.Offset())
		copy(pad, code[:])
		it.writeAt(pad, 0)
	}
	return expected
}

// truncate returns buf limited to its first count elements.
func truncate(buf any, count int) any {
	switch b := buf.(type) {
	case []byte:
		return b[:count]
	case []int16:
		return b[:count]
	case []int32:
		return b[:count]
	case []int64:
		return b[:count]
	case []float32:
		return b[:count]
	case []float64:
		return b[:count]
	case []complex64:
		return b[:count]
	}
	bug.Throw(&bug.ValidationError{Arg: "buf", Check: "unsupported buffer type"})
	panic("not reached")
}

// Release closes the item handle. Freshly written small items are
// packed back into the dataset's header file; scratch items are
// removed.
func (it *Item) Release() (err error) {
	defer bug.Recover(&err)
	it.checkOpen()
	it.isOpen = false
	if it.f == nil {
		return nil
	}
	defer it.f.Close()
	if it.scratch {
		if rerr := os.Remove(filepath.Join(it.ds.path, it.fname)); rerr != nil {
			bug.ThrowIO("remove scratch item "+it.name, rerr)
		}
		return nil
	}
	if it.status == "read" {
		return nil
	}
	size := it.size()
	if size > 0 && size <= itemCacheSize && it.ds.isOpen {
		data := make([]byte, size)
		if _, rerr := it.f.ReadAt(data, 0); rerr != nil {
			bug.ThrowIO("pack item "+it.name, rerr)
		}
		it.f.Close()
		if rerr := os.Remove(filepath.Join(it.ds.path, it.fname)); rerr != nil {
			bug.ThrowIO("pack item "+it.name, rerr)
		}
		it.ds.setSmallItem(it.name, data)
	}
	return nil
}
