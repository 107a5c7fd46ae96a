// Package xyzio is subcube-oriented image I/O. After choosing a
// subcube shape and a bounded region, pixels are addressed by a
// one-based virtual index that runs fastest along the subcube axes,
// and whole subcubes (profiles, planes) move in single calls. The
// on-disk layout is the same image/mask item pair that xyio uses.
package xyzio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miriadio/go-native-miriad/internal"
	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/hio"
	"github.com/miriadio/go-native-miriad/miriad/maskio"
	"github.com/miriadio/go-native-miriad/miriad/types"
)

const (
	imageItem = "image"
	maskItem  = "mask"
	maxAxes   = 7
	// axisNames maps subcube specification characters to axes: x, y
	// and z, then onward for higher axes.
	axisNames = "xyzabcd"
)

var (
	ErrBadAxes    = errors.New("bad image axes")
	ErrBadSubcube = errors.New("bad subcube specification")
	ErrBadRegion  = errors.New("region outside the image")
	ErrBadImage   = errors.New("image item does not match its axes")
)

var logger = internal.NewLogger()

func fail(message string, err error) {
	logger.Error(message)
	bug.Throw(err)
}

// Cube is an open image dataset addressed through a virtual subcube
// geometry.
type Cube struct {
	ds     *hio.Dataset
	item   *hio.Item
	axes   []int32
	mask   *maskio.Mask
	noMask bool
	status string
	isOpen bool

	// virtual geometry from Setup
	order   []int // external axis of each virtual axis
	nsub    int   // leading virtual axes forming one subcube
	blc     []int32
	trc     []int32
	virLen  []int32
	virSize []int64 // cumulative virtual sizes
}

// Open opens the image dataset at path. For status "new" the axes
// give the axis lengths; for "old" they are read from the dataset and
// returned through the slice, which must be large enough. Until Setup
// is called the whole cube is a single subcube in storage order.
func Open(path, status string, axes []int32) (c *Cube, err error) {
	defer bug.Recover(&err)
	c = &Cube{status: status}
	switch status {
	case "new":
		if len(axes) < 1 || len(axes) > maxAxes {
			fail(fmt.Sprintf("an image needs 1 to %d axes, not %d",
				maxAxes, len(axes)), ErrBadAxes)
		}
		for i, n := range axes {
			if n < 1 {
				fail(fmt.Sprintf("axis %d has length %d", i+1, n), ErrBadAxes)
			}
		}
		ds, oerr := hio.Open(path, "new")
		bug.ThrowIfError(oerr)
		c.ds = ds
		c.axes = append([]int32(nil), axes...)
		bug.ThrowIfError(ds.WrHeadInt("naxis", int32(len(axes))))
		for i, n := range axes {
			bug.ThrowIfError(ds.WrHeadInt(fmt.Sprintf("naxis%d", i+1), n))
		}
		it, aerr := ds.Access(imageItem, "write")
		bug.ThrowIfError(aerr)
		c.item = it
		bug.ThrowIfError(it.Write([]float32{0}, 4+4*(c.pixels()-1), 1))
	case "old":
		ds, oerr := hio.Open(path, "old")
		bug.ThrowIfError(oerr)
		c.ds = ds
		naxis, herr := ds.RdHeadInt("naxis", 0)
		bug.ThrowIfError(herr)
		if naxis < 1 || naxis > maxAxes {
			fail(fmt.Sprintf("image has %d axes", naxis), ErrBadAxes)
		}
		c.axes = make([]int32, naxis)
		for i := range c.axes {
			n, herr := ds.RdHeadInt(fmt.Sprintf("naxis%d", i+1), 0)
			bug.ThrowIfError(herr)
			if n < 1 {
				fail(fmt.Sprintf("naxis%d is %d", i+1, n), ErrBadAxes)
			}
			c.axes[i] = n
		}
		bug.ThrowIfError(types.CheckLen("axes", axes, int(naxis)))
		copy(axes, c.axes)
		it, aerr := ds.Access(imageItem, "append")
		bug.ThrowIfError(aerr)
		c.item = it
		size, serr := it.Size()
		bug.ThrowIfError(serr)
		if size != 4+4*c.pixels() {
			fail(fmt.Sprintf("image item holds %d bytes for %v axes", size, c.axes),
				ErrBadImage)
		}
		if !ds.HasItem(maskItem) {
			c.noMask = true
		}
	default:
		fail("open status must be old or new: "+status, hio.ErrBadStatus)
	}
	c.isOpen = true
	c.defaultGeometry()
	return c, nil
}

func (c *Cube) defaultGeometry() {
	spec := axisNames[:len(c.axes)]
	blc := make([]int32, len(c.axes))
	trc := append([]int32(nil), c.axes...)
	for i := range blc {
		blc[i] = 1
	}
	c.setup(spec, blc, trc)
}

func (c *Cube) checkOpen() {
	if !c.isOpen {
		bug.Throw(bug.ErrClosed)
	}
}

// Axes returns the external axis lengths.
func (c *Cube) Axes() []int32 {
	return append([]int32(nil), c.axes...)
}

// Dataset exposes the underlying dataset for header access.
func (c *Cube) Dataset() *hio.Dataset {
	return c.ds
}

func (c *Cube) pixels() int64 {
	n := int64(1)
	for _, a := range c.axes {
		n *= int64(a)
	}
	return n
}

// Setup fixes the subcube shape and the region of interest. The
// subcube string names the axes along which one subcube extends ("z"
// for profiles down the third axis, "xy" for planes, "" for single
// pixels); blc and trc bound the region, one-based and inclusive, one
// entry per axis. It returns the virtual axis lengths and their
// cumulative sizes, subcube axes first.
func (c *Cube) Setup(subcube string, blc, trc []int32) (viraxlen []int32, vircubesize []int64, err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	if len(blc) != len(c.axes) || len(trc) != len(c.axes) {
		bug.Throw(&bug.ValidationError{Arg: "blc",
			Check: fmt.Sprintf("need %d corner coordinates", len(c.axes))})
	}
	for i := range blc {
		if blc[i] < 1 || trc[i] > c.axes[i] || blc[i] > trc[i] {
			fail(fmt.Sprintf("axis %d corners %d..%d outside 1..%d",
				i+1, blc[i], trc[i], c.axes[i]), ErrBadRegion)
		}
	}
	seen := make(map[byte]bool)
	for i := 0; i < len(subcube); i++ {
		ax := strings.IndexByte(axisNames, subcube[i])
		if ax < 0 || ax >= len(c.axes) || seen[subcube[i]] {
			fail("bad subcube specification "+subcube, ErrBadSubcube)
		}
		seen[subcube[i]] = true
	}
	c.setup(subcube, blc, trc)
	return append([]int32(nil), c.virLen...),
		append([]int64(nil), c.virSize...), nil
}

func (c *Cube) setup(subcube string, blc, trc []int32) {
	c.blc = append([]int32(nil), blc...)
	c.trc = append([]int32(nil), trc...)
	c.nsub = len(subcube)
	c.order = c.order[:0]
	for i := 0; i < len(subcube); i++ {
		c.order = append(c.order, strings.IndexByte(axisNames, subcube[i]))
	}
	for ax := range c.axes {
		if !strings.ContainsRune(subcube, rune(axisNames[ax])) {
			c.order = append(c.order, ax)
		}
	}
	c.virLen = c.virLen[:0]
	c.virSize = c.virSize[:0]
	size := int64(1)
	for _, ax := range c.order {
		l := c.trc[ax] - c.blc[ax] + 1
		size *= int64(l)
		c.virLen = append(c.virLen, l)
		c.virSize = append(c.virSize, size)
	}
}

// subSize is the pixel count of one subcube.
func (c *Cube) subSize() int {
	if c.nsub == 0 {
		return 1
	}
	return int(c.virSize[c.nsub-1])
}

// regionSize is the pixel count of the whole region of interest.
func (c *Cube) regionSize() int64 {
	return c.virSize[len(c.virSize)-1]
}

// coordsOf maps a zero-based virtual index to external coordinates.
func (c *Cube) coordsOf(idx int64) []int32 {
	ext := make([]int32, len(c.axes))
	for i, ax := range c.order {
		l := int64(c.virLen[i])
		ext[ax] = c.blc[ax] + int32(idx%l)
		idx /= l
	}
	return ext
}

// IndexToCoords maps a one-based virtual index to one-based external
// coordinates.
func (c *Cube) IndexToCoords(index int64) (coords []int32, err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	c.checkIndex(index)
	return c.coordsOf(index - 1), nil
}

// CoordsToIndex maps one-based external coordinates inside the region
// to the one-based virtual index.
func (c *Cube) CoordsToIndex(coords []int32) (index int64, err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	if len(coords) != len(c.axes) {
		bug.Throw(&bug.ValidationError{Arg: "coords",
			Check: fmt.Sprintf("need %d coordinates", len(c.axes))})
	}
	for i, x := range coords {
		if x < c.blc[i] || x > c.trc[i] {
			fail(fmt.Sprintf("coordinate %d outside %d..%d on axis %d",
				x, c.blc[i], c.trc[i], i+1), ErrBadRegion)
		}
	}
	idx := int64(0)
	mul := int64(1)
	for i, ax := range c.order {
		idx += int64(coords[ax]-c.blc[ax]) * mul
		mul *= int64(c.virLen[i])
	}
	return idx + 1, nil
}

func (c *Cube) checkIndex(index int64) {
	if index < 1 || index > c.regionSize() {
		bug.Throw(&bug.ValidationError{Arg: "index",
			Check: fmt.Sprintf("must be 1..%d", c.regionSize())})
	}
}

// linearOffset is the zero-based storage-order pixel offset of
// external coordinates.
func (c *Cube) linearOffset(ext []int32) int64 {
	off := int64(0)
	stride := int64(1)
	for i, x := range ext {
		off += int64(x-1) * stride
		stride *= int64(c.axes[i])
	}
	return off
}

// transfer moves n pixels starting at a zero-based virtual index,
// coalescing runs that are contiguous in storage order. A nil mask
// slice skips flag I/O.
func (c *Cube) transfer(start int64, n int, data []float32, mask []int32, writing bool) {
	run := int64(1)
	if len(c.order) > 0 && c.order[0] == 0 {
		run = int64(c.virLen[0])
	}
	for done := 0; done < n; {
		idx := start + int64(done)
		chunk := int(run - idx%run)
		if chunk > n-done {
			chunk = n - done
		}
		off := c.linearOffset(c.coordsOf(idx))
		if writing {
			bug.ThrowIfError(c.item.Write(data[done:done+chunk], 4+4*off, chunk))
			if mask != nil {
				c.needMask(true)
				bug.ThrowIfError(c.mask.Write(maskio.Flags,
					mask[done:done+chunk], off, chunk))
			}
		} else {
			bug.ThrowIfError(c.item.Read(data[done:done+chunk], 4+4*off, chunk))
			if mask != nil {
				c.readFlags(mask[done:done+chunk], off)
			}
		}
		done += chunk
	}
}

func (c *Cube) readFlags(mask []int32, off int64) {
	if c.noMask {
		for i := range mask {
			mask[i] = 1
		}
		return
	}
	c.needMask(false)
	_, merr := c.mask.Read(maskio.Flags, mask, off, len(mask))
	bug.ThrowIfError(merr)
}

func (c *Cube) needMask(create bool) {
	if c.mask != nil {
		return
	}
	status := "old"
	if create && (c.status == "new" || c.noMask) {
		status = "new"
	}
	mk, merr := maskio.MkOpen(c.ds, maskItem, status)
	bug.ThrowIfError(merr)
	c.mask = mk
	c.noMask = false
}

// ReadPixel reads the pixel at a one-based virtual index; the flag
// reports whether the pixel is good.
func (c *Cube) ReadPixel(index int64) (value float32, good bool, err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	c.checkIndex(index)
	data := make([]float32, 1)
	mask := make([]int32, 1)
	c.transfer(index-1, 1, data, mask, false)
	return data[0], mask[0] != 0, nil
}

// WritePixel stores the pixel at a one-based virtual index along with
// its flag.
func (c *Cube) WritePixel(index int64, value float32, good bool) (err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	c.checkIndex(index)
	flag := int32(0)
	if good {
		flag = 1
	}
	c.transfer(index-1, 1, []float32{value}, []int32{flag}, true)
	return nil
}

func (c *Cube) checkSubcubeBuffers(data []float32, mask []int32) int {
	n := c.subSize()
	bug.ThrowIfError(types.Check("data", data, types.KindFloat, 4))
	bug.ThrowIfError(types.CheckLen("data", data, n))
	if mask != nil {
		bug.ThrowIfError(types.Check("mask", mask, types.KindInteger, 4))
		bug.ThrowIfError(types.CheckLen("mask", mask, n))
	}
	return n
}

func (c *Cube) subcubeStart(number int64) int64 {
	total := c.regionSize() / int64(c.subSize())
	if number < 1 || number > total {
		bug.Throw(&bug.ValidationError{Arg: "number",
			Check: fmt.Sprintf("must be 1..%d", total)})
	}
	return (number - 1) * int64(c.subSize())
}

// ReadProfile reads the numbered subcube of a one-dimensional setup.
func (c *Cube) ReadProfile(number int64, data []float32, mask []int32) (n int, err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	if c.nsub != 1 {
		bug.Throw(&bug.ValidationError{Arg: "number",
			Check: "profile I/O needs a one-axis subcube setup"})
	}
	n = c.checkSubcubeBuffers(data, mask)
	c.transfer(c.subcubeStart(number), n, data, mask, false)
	return n, nil
}

// WriteProfile stores the numbered subcube of a one-dimensional setup.
func (c *Cube) WriteProfile(number int64, data []float32, mask []int32) (err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	if c.nsub != 1 {
		bug.Throw(&bug.ValidationError{Arg: "number",
			Check: "profile I/O needs a one-axis subcube setup"})
	}
	n := c.checkSubcubeBuffers(data, mask)
	c.transfer(c.subcubeStart(number), n, data, mask, true)
	return nil
}

// Read reads the subcube containing the given external coordinates.
func (c *Cube) Read(coords []int32, data []float32, mask []int32) (n int, err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	idx, cerr := c.CoordsToIndex(coords)
	bug.ThrowIfError(cerr)
	n = c.checkSubcubeBuffers(data, mask)
	start := ((idx - 1) / int64(n)) * int64(n)
	c.transfer(start, n, data, mask, false)
	return n, nil
}

// Write stores the subcube containing the given external coordinates.
func (c *Cube) Write(coords []int32, data []float32, mask []int32) (err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	idx, cerr := c.CoordsToIndex(coords)
	bug.ThrowIfError(cerr)
	n := c.checkSubcubeBuffers(data, mask)
	start := ((idx - 1) / int64(n)) * int64(n)
	c.transfer(start, n, data, mask, true)
	return nil
}

// Flush pushes pending data to disk.
func (c *Cube) Flush() (err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	if c.mask != nil {
		bug.ThrowIfError(c.mask.Flush())
	}
	return c.ds.Flush()
}

// Close releases the cube and its dataset.
func (c *Cube) Close() (err error) {
	defer bug.Recover(&err)
	c.checkOpen()
	c.isOpen = false
	if c.mask != nil {
		bug.ThrowIfError(c.mask.Close())
	}
	bug.ThrowIfError(c.item.Release())
	return c.ds.Close()
}
