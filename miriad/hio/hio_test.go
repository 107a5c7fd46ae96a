package hio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/miriadio/go-native-miriad/miriad/bug"
)

func newDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Open(filepath.Join(t.TempDir(), "test.mir"), "new")
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func writeItem(t *testing.T, ds *Dataset, name string, buf any, offset int64, count int) {
	t.Helper()
	it, err := ds.Access(name, "write")
	if err != nil {
		t.Fatal(err)
	}
	if err := it.Write(buf, offset, count); err != nil {
		t.Fatal(err)
	}
	if err := it.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenStatuses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "x.mir")
	if _, err := Open(dir, "old"); err == nil {
		t.Error("old open of a missing dataset should fail")
	}
	ds, err := Open(dir, "new")
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, "new"); err == nil {
		t.Error("new open of an existing dataset should fail")
	}
	ds, err = Open(dir, "old")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Mode() != "old" {
		t.Error("mode not recorded")
	}
	ds.Close()
	if _, err := Open(dir, "update"); err == nil {
		t.Error("bogus status should fail")
	}
}

func TestTypedRoundTrip(t *testing.T) {
	// zero, one and many elements; many crosses the header packing
	// threshold and lands in its own file
	for _, n := range []int{0, 1, 1000} {
		ds := newDataset(t)
		want := make([]float32, n)
		for i := range want {
			want[i] = float32(i) * 0.5
		}
		writeItem(t, ds, "image", want, 4, n)
		it, err := ds.Access("image", "read")
		if err != nil {
			t.Fatal(err)
		}
		size, _ := it.Size()
		if size != int64(4+4*n) {
			t.Errorf("n=%d: size %d want %d", n, size, 4+4*n)
		}
		got := make([]float32, n)
		if err := it.Read(got, 4, n); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("n=%d: round trip mismatch", n)
		}
		it.Release()
		ds.Close()
	}
}

func TestEveryElementType(t *testing.T) {
	ds := newDataset(t)
	cases := []struct {
		name   string
		buf    any
		offset int64
		fresh  func(n int) any
	}{
		{"bytes", []byte{1, 2, 3}, 4, func(n int) any { return make([]byte, n) }},
		{"shorts", []int16{-1, 300}, 4, func(n int) any { return make([]int16, n) }},
		{"ints", []int32{1 << 20}, 4, func(n int) any { return make([]int32, n) }},
		{"longs", []int64{1 << 40}, 8, func(n int) any { return make([]int64, n) }},
		{"reals", []float32{1.5, -2.5}, 4, func(n int) any { return make([]float32, n) }},
		{"doubles", []float64{2459000.5}, 8, func(n int) any { return make([]float64, n) }},
		{"cmplx", []complex64{complex(1, -1)}, 4, func(n int) any { return make([]complex64, n) }},
	}
	for _, c := range cases {
		n := sliceLen(c.buf)
		writeItem(t, ds, c.name, c.buf, c.offset, n)
		it, err := ds.Access(c.name, "read")
		if err != nil {
			t.Fatal(c.name, err)
		}
		got := c.fresh(n)
		if err := it.Read(got, c.offset, n); err != nil {
			t.Fatal(c.name, err)
		}
		if !reflect.DeepEqual(got, c.buf) {
			t.Errorf("%s: got %v want %v", c.name, got, c.buf)
		}
		it.Release()
	}
}

func TestValidationBeforeIO(t *testing.T) {
	ds := newDataset(t)
	writeItem(t, ds, "counts", []int32{1, 2, 3}, 4, 3)
	it, err := ds.Access("counts", "append")
	if err != nil {
		t.Fatal(err)
	}
	before, _ := it.Size()

	var ve *bug.ValidationError
	// wrong kind
	if err := it.Write([]float32{9}, 16, 1); !errors.As(err, &ve) {
		t.Errorf("kind mismatch should be a validation error, got %v", err)
	}
	// compatible kind but wrong width
	if err := it.Write([]int16{9}, 16, 1); !errors.As(err, &ve) {
		t.Errorf("width mismatch should be a validation error, got %v", err)
	}
	// short buffer
	if err := it.Write([]int32{9}, 16, 2); !errors.As(err, &ve) {
		t.Errorf("short buffer should be a validation error, got %v", err)
	}
	// offset inside the type code
	if err := it.Write([]int32{9}, 0, 1); err == nil {
		t.Error("offset inside the type code should fail")
	}
	// misaligned offset
	if err := it.Write([]int32{9}, 6, 1); err == nil {
		t.Error("misaligned offset should fail")
	}

	after, _ := it.Size()
	if after != before {
		t.Errorf("rejected writes changed the item: %d -> %d", before, after)
	}
	got := make([]float32, 3)
	if err := it.Read(got, 4, 3); !errors.As(err, &ve) {
		t.Errorf("wrong-kind read should be a validation error, got %v", err)
	}
	it.Release()
}

func TestHeaderPacking(t *testing.T) {
	ds := newDataset(t)
	writeItem(t, ds, "naxis", []int32{3}, 4, 1)
	big := make([]float64, 100)
	writeItem(t, ds, "freqs", big, 8, 100)
	if err := ds.Flush(); err != nil {
		t.Fatal(err)
	}

	// the small item lives only in the header file
	if _, err := os.Stat(filepath.Join(ds.Path(), "naxis")); err == nil {
		t.Error("small item should not have its own file")
	}
	if _, err := os.Stat(filepath.Join(ds.Path(), "freqs")); err != nil {
		t.Error("large item should have its own file")
	}
	if !ds.HasItem("naxis") || !ds.HasItem("freqs") {
		t.Error("both items should be visible")
	}
	names, err := ds.ItemNames()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"naxis", "freqs"}) {
		t.Errorf("item names: %v", names)
	}
	ds.Close()

	// survives a reopen
	ds2, err := Open(ds.Path(), "old")
	if err != nil {
		t.Fatal(err)
	}
	it, err := ds2.Access("naxis", "read")
	if err != nil {
		t.Fatal(err)
	}
	got := make([]int32, 1)
	if err := it.Read(got, 4, 1); err != nil {
		t.Fatal(err)
	}
	if got[0] != 3 {
		t.Error("packed item value lost:", got[0])
	}
	it.Release()
	ds2.Close()
}

func TestAppendSpillsPackedItem(t *testing.T) {
	ds := newDataset(t)
	writeItem(t, ds, "obstype", []int32{7}, 4, 1)
	it, err := ds.Access("obstype", "append")
	if err != nil {
		t.Fatal(err)
	}
	if err := it.Write([]int32{8, 9}, 8, 2); err != nil {
		t.Fatal(err)
	}
	it.Release()
	it, _ = ds.Access("obstype", "read")
	got := make([]int32, 3)
	if err := it.Read(got, 4, 3); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int32{7, 8, 9}) {
		t.Error("append after spill lost data:", got)
	}
	it.Release()
}

func TestTextLines(t *testing.T) {
	ds := newDataset(t)
	it, err := ds.Access("history", "write")
	if err != nil {
		t.Fatal(err)
	}
	lines := []string{"MIRLS: run 1", "MIRLS: run 2"}
	for _, l := range lines {
		if err := it.WriteLine(l); err != nil {
			t.Fatal(err)
		}
	}
	it.Release()

	it, err = ds.Access("history", "read")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range lines {
		got, err := it.ReadLine()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("line %d: %q want %q", i, got, want)
		}
	}
	if _, err := it.ReadLine(); err != io.EOF {
		t.Error("expected EOF at end of item, got", err)
	}
	// rewind and reread the first line
	if err := it.Seek(0); err != nil {
		t.Fatal(err)
	}
	if got, _ := it.ReadLine(); got != lines[0] {
		t.Error("seek did not rewind:", got)
	}
	if it.Tell() != int64(len(lines[0])+1) {
		t.Error("cursor wrong after reread:", it.Tell())
	}
	it.Release()
}

func TestScratchItem(t *testing.T) {
	ds := newDataset(t)
	it, err := ds.Access("tmpvis", "scratch")
	if err != nil {
		t.Fatal(err)
	}
	if err := it.Write([]float32{1, 2}, 4, 2); err != nil {
		t.Fatal(err)
	}
	it.Release()
	if ds.HasItem("tmpvis") {
		t.Error("scratch item should vanish on release")
	}
	entries, _ := os.ReadDir(ds.Path())
	for _, e := range entries {
		if e.Name() != headerItem {
			t.Error("leftover file:", e.Name())
		}
	}
}

func TestDeleteItem(t *testing.T) {
	ds := newDataset(t)
	writeItem(t, ds, "small", []int32{1}, 4, 1)
	writeItem(t, ds, "large", make([]float32, 50), 4, 50)
	for _, name := range []string{"small", "large"} {
		if err := ds.DeleteItem(name); err != nil {
			t.Fatal(name, err)
		}
		if ds.HasItem(name) {
			t.Error(name, "still present after delete")
		}
	}
	if err := ds.DeleteItem("nosuch"); err == nil {
		t.Error("deleting a missing item should fail")
	}
}

func TestDeleteDataset(t *testing.T) {
	ds := newDataset(t)
	path := ds.Path()
	if err := ds.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("dataset directory survived delete")
	}
	if err := ds.Flush(); !errors.Is(err, bug.ErrClosed) {
		t.Error("deleted handle should be closed, got", err)
	}
}

func TestClosedHandles(t *testing.T) {
	ds := newDataset(t)
	it, err := ds.Access("vis", "write")
	if err != nil {
		t.Fatal(err)
	}
	it.Release()
	if err := it.Write([]int32{1}, 4, 1); !errors.Is(err, bug.ErrClosed) {
		t.Error("released item should reject writes, got", err)
	}
	ds.Close()
	if _, err := ds.Access("vis", "read"); !errors.Is(err, bug.ErrClosed) {
		t.Error("closed dataset should reject access, got", err)
	}
	if err := ds.Close(); !errors.Is(err, bug.ErrClosed) {
		t.Error("double close should fail, got", err)
	}
}

func TestBadItemNames(t *testing.T) {
	ds := newDataset(t)
	for _, name := range []string{"", "Header", "toolongname", "9lives", "header"} {
		if _, err := ds.Access(name, "write"); err == nil {
			t.Errorf("name %q should be rejected", name)
		}
	}
}

func TestFaultDoesNotContaminateNextCall(t *testing.T) {
	ds := newDataset(t)
	if _, err := ds.Access("nosuch", "read"); err == nil {
		t.Fatal("expected a failure")
	}
	// the failed call must leave the handle fully usable
	writeItem(t, ds, "after", []int32{42}, 4, 1)
	it, err := ds.Access("after", "read")
	if err != nil {
		t.Fatal(err)
	}
	got := make([]int32, 1)
	if err := it.Read(got, 4, 1); err != nil || got[0] != 42 {
		t.Error("handle unusable after earlier fault:", got, err)
	}
	it.Release()
}
