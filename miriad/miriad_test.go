package miriad

import (
	"path/filepath"
	"testing"

	"github.com/miriadio/go-native-miriad/miriad/uvio"
	"github.com/miriadio/go-native-miriad/miriad/xyio"
)

func TestProbeFlavors(t *testing.T) {
	dir := t.TempDir()

	uvPath := filepath.Join(dir, "vis.mir")
	uv, err := uvio.Open(uvPath, "new")
	if err != nil {
		t.Fatal(err)
	}
	pre := []float64{1, 2, 2459000.5, uvio.EncodeBaseline(1, 2)}
	if err := uv.Write(pre, []complex64{1}, []int32{1}, 1); err != nil {
		t.Fatal(err)
	}
	if err := uv.Close(); err != nil {
		t.Fatal(err)
	}

	imPath := filepath.Join(dir, "map.mir")
	im, err := xyio.Open(imPath, "new", []int32{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := im.Write(1, []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := im.Close(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path string
		want Flavor
	}{
		{uvPath, UV},
		{imPath, Image},
	}
	for _, c := range cases {
		got, err := Probe(c.path)
		if err != nil {
			t.Fatal(c.path, err)
		}
		if got != c.want {
			t.Errorf("%s: probed %v want %v", c.path, got, c.want)
		}
	}

	if _, err := Probe(filepath.Join(dir, "nosuch.mir")); err == nil {
		t.Error("probing a missing path should fail")
	}
}

func TestFlavorNames(t *testing.T) {
	names := map[Flavor]string{UV: "uv", Image: "image", Other: "other", Unknown: "unknown"}
	for f, want := range names {
		if f.String() != want {
			t.Errorf("%d: %s want %s", f, f.String(), want)
		}
	}
}
