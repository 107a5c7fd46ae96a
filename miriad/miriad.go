// Package miriad identifies MIRIAD datasets on disk. The I/O itself
// lives in the subpackages: hio for items and headers, uvio for
// visibility streams, xyio and xyzio for images, maskio for flag
// masks, key for task parameters.
package miriad

import (
	"github.com/miriadio/go-native-miriad/internal"
	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/hio"
)

// Flavor is the coarse kind of a dataset.
type Flavor int

const (
	// Unknown is a directory that is not recognizably a dataset.
	Unknown Flavor = iota
	// UV is a visibility dataset: it carries a visdata item.
	UV
	// Image is an image dataset: it carries an image item.
	Image
	// Other is a dataset with items but neither visibilities nor an
	// image.
	Other
)

func (f Flavor) String() string {
	switch f {
	case UV:
		return "uv"
	case Image:
		return "image"
	case Other:
		return "other"
	}
	return "unknown"
}

// Probe reports what kind of dataset sits at path, from item presence
// alone; nothing is decoded.
func Probe(path string) (flavor Flavor, err error) {
	defer bug.Recover(&err)
	ds, oerr := hio.Open(path, "old")
	if oerr != nil {
		return Unknown, oerr
	}
	defer ds.Close()
	switch {
	case ds.HasItem("visdata") && ds.HasItem("vartable"):
		return UV, nil
	case ds.HasItem("image"):
		return Image, nil
	}
	names, nerr := ds.ItemNames()
	bug.ThrowIfError(nerr)
	if len(names) > 0 {
		return Other, nil
	}
	return Unknown, nil
}

var logger = internal.NewLogger()

// SetLogLevel sets the logging level for this package and returns the
// previous one; the I/O subpackages carry their own.
func SetLogLevel(level internal.LogLevel) internal.LogLevel {
	return logger.SetLogLevel(level)
}
