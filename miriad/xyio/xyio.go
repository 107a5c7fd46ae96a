// Package xyio is row-oriented image I/O: an image dataset holds a
// float32 pixel cube in its image item, axis lengths in the naxis
// header items, and per-pixel flags in the mask item. Reads and writes
// move one row of the currently selected plane at a time.
package xyio

import (
	"errors"
	"fmt"

	"github.com/miriadio/go-native-miriad/internal"
	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/hio"
	"github.com/miriadio/go-native-miriad/miriad/maskio"
	"github.com/miriadio/go-native-miriad/miriad/types"
)

const (
	imageItem = "image"
	maskItem  = "mask"
	// maxAxes matches the naxis headers an image may carry.
	maxAxes = 7
)

var (
	ErrBadAxes  = errors.New("bad image axes")
	ErrBadPlane = errors.New("plane outside the image")
	ErrBadImage = errors.New("image item does not match its axes")
)

var logger = internal.NewLogger()

func fail(message string, err error) {
	logger.Error(message)
	bug.Throw(err)
}

// Image is an open image dataset positioned at one plane.
type Image struct {
	ds     *hio.Dataset
	item   *hio.Item
	axes   []int32
	plane  []int32 // one-based coordinates on axes 3..naxis
	mask   *maskio.Mask
	noMask bool // reading an image with no mask item
	status string
	isOpen bool
}

// Open opens the image dataset at path. For status "new" the axes
// slice gives the axis lengths and the image is created; for "old" it
// is filled in from the dataset's naxis headers and must be large
// enough to hold them.
func Open(path, status string, axes []int32) (im *Image, err error) {
	defer bug.Recover(&err)
	im = &Image{status: status}
	switch status {
	case "new":
		checkAxes(axes)
		ds, oerr := hio.Open(path, "new")
		bug.ThrowIfError(oerr)
		im.ds = ds
		im.axes = append([]int32(nil), axes...)
		bug.ThrowIfError(ds.WrHeadInt("naxis", int32(len(axes))))
		for i, n := range axes {
			bug.ThrowIfError(ds.WrHeadInt(fmt.Sprintf("naxis%d", i+1), n))
		}
		it, aerr := ds.Access(imageItem, "write")
		bug.ThrowIfError(aerr)
		im.item = it
		// size the item for the whole cube up front; unwritten pixels
		// read back as zero
		bug.ThrowIfError(it.Write([]float32{0}, 4+4*(im.pixels()-1), 1))
	case "old":
		ds, oerr := hio.Open(path, "old")
		bug.ThrowIfError(oerr)
		im.ds = ds
		naxis, herr := ds.RdHeadInt("naxis", 0)
		bug.ThrowIfError(herr)
		if naxis < 2 || naxis > maxAxes {
			fail(fmt.Sprintf("image has %d axes", naxis), ErrBadAxes)
		}
		im.axes = make([]int32, naxis)
		for i := range im.axes {
			n, herr := ds.RdHeadInt(fmt.Sprintf("naxis%d", i+1), 0)
			bug.ThrowIfError(herr)
			if n < 1 {
				fail(fmt.Sprintf("naxis%d is %d", i+1, n), ErrBadAxes)
			}
			im.axes[i] = n
		}
		bug.ThrowIfError(types.CheckLen("axes", axes, int(naxis)))
		copy(axes, im.axes)
		it, aerr := ds.Access(imageItem, "append")
		bug.ThrowIfError(aerr)
		im.item = it
		size, serr := it.Size()
		bug.ThrowIfError(serr)
		if size != 4+4*im.pixels() {
			fail(fmt.Sprintf("image item holds %d bytes for %v axes", size, im.axes),
				ErrBadImage)
		}
		if !ds.HasItem(maskItem) {
			im.noMask = true
		}
	default:
		fail("open status must be old or new: "+status, hio.ErrBadStatus)
	}
	im.plane = make([]int32, len(im.axes)-2)
	for i := range im.plane {
		im.plane[i] = 1
	}
	im.isOpen = true
	return im, nil
}

func checkAxes(axes []int32) {
	if len(axes) < 2 || len(axes) > maxAxes {
		fail(fmt.Sprintf("an image needs 2 to %d axes, not %d", maxAxes, len(axes)),
			ErrBadAxes)
	}
	for i, n := range axes {
		if n < 1 {
			fail(fmt.Sprintf("axis %d has length %d", i+1, n), ErrBadAxes)
		}
	}
}

func (im *Image) checkOpen() {
	if !im.isOpen {
		bug.Throw(bug.ErrClosed)
	}
}

// Axes returns the image axis lengths.
func (im *Image) Axes() []int32 {
	return append([]int32(nil), im.axes...)
}

// Dataset exposes the underlying dataset for header access.
func (im *Image) Dataset() *hio.Dataset {
	return im.ds
}

func (im *Image) pixels() int64 {
	n := int64(1)
	for _, a := range im.axes {
		n *= int64(a)
	}
	return n
}

// planeBase returns the zero-based pixel index of the selected plane's
// first pixel.
func (im *Image) planeBase() int64 {
	base := int64(0)
	stride := int64(im.axes[0]) * int64(im.axes[1])
	for i, c := range im.plane {
		base += int64(c-1) * stride
		stride *= int64(im.axes[2+i])
	}
	return base
}

// SetPlane selects the plane addressed by subsequent row I/O: one
// one-based coordinate per axis beyond the second. An empty call
// returns to the first plane.
func (im *Image) SetPlane(coords []int32) (err error) {
	defer bug.Recover(&err)
	im.checkOpen()
	if len(coords) > len(im.axes)-2 {
		fail(fmt.Sprintf("%d plane coordinates for %d axes", len(coords),
			len(im.axes)), ErrBadPlane)
	}
	for i, c := range coords {
		if c < 1 || c > im.axes[2+i] {
			fail(fmt.Sprintf("plane coordinate %d out of range on axis %d",
				c, i+3), ErrBadPlane)
		}
	}
	for i := range im.plane {
		im.plane[i] = 1
	}
	copy(im.plane, coords)
	return nil
}

func (im *Image) rowBase(row int) int64 {
	if row < 1 || row > int(im.axes[1]) {
		bug.Throw(&bug.ValidationError{Arg: "row",
			Check: fmt.Sprintf("must be 1..%d", im.axes[1])})
	}
	return im.planeBase() + int64(row-1)*int64(im.axes[0])
}

// Read fills data with one row of the selected plane. Rows are
// one-based; data must hold a full row.
func (im *Image) Read(row int, data []float32) (err error) {
	defer bug.Recover(&err)
	im.checkOpen()
	bug.ThrowIfError(types.Check("data", data, types.KindFloat, 4))
	bug.ThrowIfError(types.CheckLen("data", data, int(im.axes[0])))
	base := im.rowBase(row)
	return im.item.Read(data[:im.axes[0]], 4+4*base, int(im.axes[0]))
}

// Write stores one row of the selected plane.
func (im *Image) Write(row int, data []float32) (err error) {
	defer bug.Recover(&err)
	im.checkOpen()
	bug.ThrowIfError(types.Check("data", data, types.KindFloat, 4))
	bug.ThrowIfError(types.CheckLen("data", data, int(im.axes[0])))
	base := im.rowBase(row)
	return im.item.Write(data[:im.axes[0]], 4+4*base, int(im.axes[0]))
}

func (im *Image) needMask(create bool) {
	if im.mask != nil {
		return
	}
	status := "old"
	if create && (im.status == "new" || im.noMask) {
		status = "new"
	}
	mk, merr := maskio.MkOpen(im.ds, maskItem, status)
	bug.ThrowIfError(merr)
	im.mask = mk
	im.noMask = false
}

// ReadFlags fills flags with the row's pixel flags (1 good, 0 bad). An
// image without a mask item reads as all good.
func (im *Image) ReadFlags(row int, flags []int32) (err error) {
	defer bug.Recover(&err)
	im.checkOpen()
	bug.ThrowIfError(types.Check("flags", flags, types.KindInteger, 4))
	bug.ThrowIfError(types.CheckLen("flags", flags, int(im.axes[0])))
	base := im.rowBase(row)
	if im.noMask {
		for i := int32(0); i < im.axes[0]; i++ {
			flags[i] = 1
		}
		return nil
	}
	im.needMask(false)
	_, merr := im.mask.Read(maskio.Flags, flags, base, int(im.axes[0]))
	return merr
}

// WriteFlags stores the row's pixel flags, creating the mask item on
// first use.
func (im *Image) WriteFlags(row int, flags []int32) (err error) {
	defer bug.Recover(&err)
	im.checkOpen()
	bug.ThrowIfError(types.Check("flags", flags, types.KindInteger, 4))
	bug.ThrowIfError(types.CheckLen("flags", flags, int(im.axes[0])))
	base := im.rowBase(row)
	im.needMask(true)
	return im.mask.Write(maskio.Flags, flags, base, int(im.axes[0]))
}

// Flush pushes pending image data to disk.
func (im *Image) Flush() (err error) {
	defer bug.Recover(&err)
	im.checkOpen()
	if im.mask != nil {
		bug.ThrowIfError(im.mask.Flush())
	}
	return im.ds.Flush()
}

// Close releases the image and its dataset.
func (im *Image) Close() (err error) {
	defer bug.Recover(&err)
	im.checkOpen()
	im.isOpen = false
	if im.mask != nil {
		bug.ThrowIfError(im.mask.Close())
	}
	bug.ThrowIfError(im.item.Release())
	return im.ds.Close()
}
