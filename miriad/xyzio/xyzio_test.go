package xyzio

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/xyio"
)

// buildCube writes a 4x3x2 cube through xyio; xyzio then reads it
// through various subcube geometries, proving the two layers share a
// layout. Pixel (x,y,z) holds 100z + 10y + x.
func buildCube(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cube.mir")
	im, err := xyio.Open(path, "new", []int32{4, 3, 2})
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
				row[x] = float32(100*int(z) + 10*y + x + 1)
			}
			if z == 1 && y == 2 {
				flags[1] = 0
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

func openCube(t *testing.T) *Cube {
	t.Helper()
	c, err := Open(buildCube(t), "old", make([]int32, 3))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetupGeometry(t *testing.T) {
	c := openCube(t)
	viraxlen, vircubesize, err := c.Setup("z", []int32{1, 1, 1}, []int32{4, 3, 2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(viraxlen, []int32{2, 4, 3}) {
		t.Error("virtual axis lengths:", viraxlen)
	}
	if !reflect.DeepEqual(vircubesize, []int64{2, 8, 24}) {
		t.Error("virtual cube sizes:", vircubesize)
	}
}

func TestIndexCoordsInverse(t *testing.T) {
	c := openCube(t)
	if _, _, err := c.Setup("z", []int32{2, 1, 1}, []int32{4, 3, 2}); err != nil {
		t.Fatal(err)
	}
	// walk the whole region; the mappings must be inverse
	for idx := int64(1); idx <= 18; idx++ {
		coords, err := c.IndexToCoords(idx)
		if err != nil {
			t.Fatal(err)
		}
		back, err := c.CoordsToIndex(coords)
		if err != nil {
			t.Fatal(err)
		}
		if back != idx {
			t.Fatalf("index %d -> %v -> %d", idx, coords, back)
		}
	}
	// the first index sits at the region corner, fastest along z
	coords, _ := c.IndexToCoords(1)
	if !reflect.DeepEqual(coords, []int32{2, 1, 1}) {
		t.Error("first coords:", coords)
	}
	coords, _ = c.IndexToCoords(2)
	if !reflect.DeepEqual(coords, []int32{2, 1, 2}) {
		t.Error("second coords:", coords)
	}
	if _, err := c.IndexToCoords(19); err == nil {
		t.Error("index past the region should fail")
	}
	if _, err := c.CoordsToIndex([]int32{1, 1, 1}); err == nil {
		t.Error("coords outside the region should fail")
	}
}

func TestPixelAccess(t *testing.T) {
	c := openCube(t)
	if _, _, err := c.Setup("", []int32{1, 1, 1}, []int32{4, 3, 2}); err != nil {
		t.Fatal(err)
	}
	idx, err := c.CoordsToIndex([]int32{3, 2, 1})
	if err != nil {
		t.Fatal(err)
	}
	v, good, err := c.ReadPixel(idx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 123 || !good {
		t.Error("pixel (3,2,1):", v, good)
	}
	// the flagged pixel
	idx, _ = c.CoordsToIndex([]int32{2, 2, 1})
	if _, good, _ := c.ReadPixel(idx); good {
		t.Error("pixel (2,2,1) should be flagged bad")
	}
}

func TestProfiles(t *testing.T) {
	c := openCube(t)
	if _, _, err := c.Setup("z", []int32{1, 1, 1}, []int32{4, 3, 2}); err != nil {
		t.Fatal(err)
	}
	// profile 1 runs down z at (1,1)
	data := make([]float32, 2)
	mask := make([]int32, 2)
	n, err := c.ReadProfile(1, data, mask)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || !reflect.DeepEqual(data, []float32{111, 211}) {
		t.Error("profile 1:", n, data)
	}
	// profile 6 sits at (2,2), whose z=1 pixel is flagged
	if _, err := c.ReadProfile(6, data, mask); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(data, []float32{122, 222}) {
		t.Error("profile 6:", data)
	}
	if !reflect.DeepEqual(mask, []int32{0, 1}) {
		t.Error("profile 6 mask:", mask)
	}
	if _, err := c.ReadProfile(13, data, mask); err == nil {
		t.Error("profile past the region should fail")
	}

	// profile I/O needs a 1-D subcube
	if _, _, err := c.Setup("xy", []int32{1, 1, 1}, []int32{4, 3, 2}); err != nil {
		t.Fatal(err)
	}
	plane := make([]float32, 12)
	var ve *bug.ValidationError
	if _, err := c.ReadProfile(1, plane, nil); !errors.As(err, &ve) {
		t.Error("profile read of a plane subcube should fail, got", err)
	}
}

func TestPlaneSubcube(t *testing.T) {
	c := openCube(t)
	if _, _, err := c.Setup("xy", []int32{1, 1, 1}, []int32{4, 3, 2}); err != nil {
		t.Fatal(err)
	}
	data := make([]float32, 12)
	n, err := c.Read([]int32{1, 1, 2}, data, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{
		211, 212, 213, 214,
		221, 222, 223, 224,
		231, 232, 233, 234,
	}
	if n != 12 || !reflect.DeepEqual(data, want) {
		t.Error("plane 2:", n, data)
	}
}

func TestSubregion(t *testing.T) {
	c := openCube(t)
	// a 2x2 window of plane 1, profiles along x
	if _, _, err := c.Setup("x", []int32{2, 1, 1}, []int32{3, 2, 1}); err != nil {
		t.Fatal(err)
	}
	data := make([]float32, 2)
	if _, err := c.ReadProfile(2, data, nil); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(data, []float32{122, 123}) {
		t.Error("windowed profile 2:", data)
	}
}

func TestWriteThroughSubcubes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.mir")
	c, err := Open(path, "new", []int32{4, 3, 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Setup("z", []int32{1, 1, 1}, []int32{4, 3, 2}); err != nil {
		t.Fatal(err)
	}
	for p := int64(1); p <= 12; p++ {
		v := float32(p)
		if err := c.WriteProfile(p, []float32{v, -v}, []int32{1, 0}); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	// the same data through the row-oriented layer
	im, err := xyio.Open(path, "old", make([]int32, 3))
	if err != nil {
		t.Fatal(err)
	}
	defer im.Close()
	if err := im.SetPlane([]int32{2}); err != nil {
		t.Fatal(err)
	}
	row := make([]float32, 4)
	if err := im.Read(1, row); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(row, []float32{-1, -2, -3, -4}) {
		t.Error("plane 2 row 1:", row)
	}
	flags := make([]int32, 4)
	if err := im.ReadFlags(1, flags); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(flags, []int32{0, 0, 0, 0}) {
		t.Error("plane 2 flags:", flags)
	}
}

func TestBadSetups(t *testing.T) {
	c := openCube(t)
	if _, _, err := c.Setup("q", []int32{1, 1, 1}, []int32{4, 3, 2}); err == nil {
		t.Error("unknown axis letter should fail")
	}
	if _, _, err := c.Setup("zz", []int32{1, 1, 1}, []int32{4, 3, 2}); err == nil {
		t.Error("repeated axis should fail")
	}
	if _, _, err := c.Setup("z", []int32{1, 1}, []int32{4, 3}); err == nil {
		t.Error("short corners should fail")
	}
	if _, _, err := c.Setup("z", []int32{0, 1, 1}, []int32{4, 3, 2}); err == nil {
		t.Error("corner outside the cube should fail")
	}
	if _, _, err := c.Setup("z", []int32{1, 1, 2}, []int32{4, 3, 1}); err == nil {
		t.Error("inverted corners should fail")
	}
}
