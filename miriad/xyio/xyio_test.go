package xyio

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/miriadio/go-native-miriad/miriad/bug"
)

// buildCube writes a 4x3x2 image whose pixel values encode their
// coordinates, with the corner pixel of each plane flagged bad.
func buildCube(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "map.mir")
	im, err := Open(path, "new", []int32{4, 3, 2})
	if err != nil {
		t.Fatal(err)
	}
	for z := int32(1); z <= 2; z++ {
		if err := im.SetPlane([]int32{z}); err != nil {
			t.Fatal(err)
		}
		for y := 1; y <= 3; y++ {
			row := make([]float32, 4)
			flags := []int32{1, 1, 1, 1}
			for x := range row {
				row[x] = float32(100*z) + float32(10*y) + float32(x+1)
			}
			if y == 1 {
				flags[0] = 0
			}
			if err := im.Write(y, row); err != nil {
				t.Fatal(err)
			}
			if err := im.WriteFlags(y, flags); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := im.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRowRoundTrip(t *testing.T) {
	path := buildCube(t)
	axes := make([]int32, 8)
	im, err := Open(path, "old", axes)
	if err != nil {
		t.Fatal(err)
	}
	defer im.Close()
	if !reflect.DeepEqual(im.Axes(), []int32{4, 3, 2}) {
		t.Fatal("axes:", im.Axes())
	}
	if !reflect.DeepEqual(axes[:3], []int32{4, 3, 2}) {
		t.Error("axes buffer not filled:", axes[:3])
	}

	if err := im.SetPlane([]int32{2}); err != nil {
		t.Fatal(err)
	}
	row := make([]float32, 4)
	if err := im.Read(2, row); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(row, []float32{221, 222, 223, 224}) {
		t.Error("plane 2 row 2:", row)
	}
	flags := make([]int32, 4)
	if err := im.ReadFlags(1, flags); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(flags, []int32{0, 1, 1, 1}) {
		t.Error("plane 2 row 1 flags:", flags)
	}
	if err := im.ReadFlags(2, flags); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(flags, []int32{1, 1, 1, 1}) {
		t.Error("plane 2 row 2 flags:", flags)
	}
}

func TestPlaneSelection(t *testing.T) {
	im, err := Open(buildCube(t), "old", make([]int32, 3))
	if err != nil {
		t.Fatal(err)
	}
	defer im.Close()
	row := make([]float32, 4)
	// the default plane is the first
	if err := im.Read(1, row); err != nil {
		t.Fatal(err)
	}
	if row[0] != 111 {
		t.Error("default plane:", row[0])
	}
	if err := im.SetPlane([]int32{3}); err == nil {
		t.Error("plane beyond the axis should be rejected")
	}
	if err := im.SetPlane([]int32{1, 1}); err == nil {
		t.Error("too many plane coordinates should be rejected")
	}
}

func TestRowValidation(t *testing.T) {
	im, err := Open(buildCube(t), "old", make([]int32, 3))
	if err != nil {
		t.Fatal(err)
	}
	defer im.Close()
	var ve *bug.ValidationError
	if err := im.Read(1, make([]float32, 3)); !errors.As(err, &ve) {
		t.Error("short row buffer should be a validation error, got", err)
	}
	if err := im.Read(0, make([]float32, 4)); !errors.As(err, &ve) {
		t.Error("row 0 should be a validation error, got", err)
	}
	if err := im.Read(4, make([]float32, 4)); !errors.As(err, &ve) {
		t.Error("row past the image should be a validation error, got", err)
	}
	if err := im.Read(1, nil); !errors.As(err, &ve) {
		t.Error("nil buffer should be a validation error, got", err)
	}
}

func TestMissingMaskReadsGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clean.mir")
	im, err := Open(path, "new", []int32{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := im.Write(1, []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := im.Write(2, []float32{3, 4}); err != nil {
		t.Fatal(err)
	}
	im.Close()

	im2, err := Open(path, "old", make([]int32, 2))
	if err != nil {
		t.Fatal(err)
	}
	defer im2.Close()
	flags := make([]int32, 2)
	if err := im2.ReadFlags(2, flags); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(flags, []int32{1, 1}) {
		t.Error("maskless image should read all good:", flags)
	}
}

func TestBadAxes(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "a.mir"), "new", []int32{5}); err == nil {
		t.Error("one axis should be rejected")
	}
	if _, err := Open(filepath.Join(dir, "b.mir"), "new", []int32{5, 0}); err == nil {
		t.Error("zero-length axis should be rejected")
	}
}
