// Package maskio reads and writes mask items: streams of single-bit
// flags packed 31 to a big-endian int32 word. Callers address bits by
// absolute bit offset and choose between the expanded representation
// (one int32 per flag) and run-length form (alternating run lengths).
package maskio

import (
	"github.com/miriadio/go-native-miriad/miriad/bug"
	"github.com/miriadio/go-native-miriad/miriad/hio"
	"github.com/miriadio/go-native-miriad/miriad/types"
)

// Mode selects the flag representation of a transfer.
type Mode int

const (
	// Flags moves one int32 per bit, 0 or 1.
	Flags Mode = 1
	// Runs moves alternating run lengths, the first run counting
	// clear bits (possibly zero of them).
	Runs Mode = 2
)

// bitsPerWord is the number of mask bits carried per stored int32.
// The sign bit is never used.
const bitsPerWord = 31

// Mask is an open mask item.
type Mask struct {
	it     *hio.Item
	isOpen bool
}

// MkOpen opens the named mask item of a dataset. Status "old" opens an
// existing mask read-write, "new" creates or truncates one.
func MkOpen(ds *hio.Dataset, name, status string) (mk *Mask, err error) {
	defer bug.Recover(&err)
	var it *hio.Item
	var aerr error
	switch status {
	case "old":
		it, aerr = ds.Access(name, "append")
	case "new":
		it, aerr = ds.Access(name, "write")
	default:
		bug.Throw(&bug.ValidationError{Arg: "status",
			Check: "must be old or new"})
	}
	bug.ThrowIfError(aerr)
	return &Mask{it: it, isOpen: true}, nil
}

func (mk *Mask) checkOpen() {
	if !mk.isOpen {
		bug.Throw(bug.ErrClosed)
	}
}

// Read transfers n bits starting at bit offset into flags. In Flags
// mode each element receives 0 or 1 and n elements are produced; in
// Runs mode the bits are run-length encoded and the element count of
// the encoding is returned. Bits past the stored mask read as clear.
func (mk *Mask) Read(mode Mode, flags []int32, offset int64, n int) (nread int, err error) {
	defer bug.Recover(&err)
	mk.checkOpen()
	checkTransfer(mode, flags, n)
	if n == 0 {
		return 0, nil
	}
	words := mk.loadWords(offset, n)
	switch mode {
	case Flags:
		bug.ThrowIfError(types.CheckLen("flags", flags, n))
		for i := 0; i < n; i++ {
			flags[i] = getBit(words, offset, i)
		}
		return n, nil
	case Runs:
		return encodeRuns(words, offset, n, flags), nil
	}
	panic("not reached")
}

// Write transfers n bits starting at bit offset from flags, which
// holds expanded 0/1 values in Flags mode or alternating run lengths
// summing to n in Runs mode.
func (mk *Mask) Write(mode Mode, flags []int32, offset int64, n int) (err error) {
	defer bug.Recover(&err)
	mk.checkOpen()
	checkTransfer(mode, flags, n)
	if n == 0 {
		return nil
	}
	words := mk.loadWords(offset, n)
	switch mode {
	case Flags:
		bug.ThrowIfError(types.CheckLen("flags", flags, n))
		for i := 0; i < n; i++ {
			setBit(words, offset, i, flags[i] != 0)
		}
	case Runs:
		decodeRuns(words, offset, n, flags)
	}
	mk.storeWords(offset, words)
	return nil
}

// Flush pushes pending mask data to the dataset.
func (mk *Mask) Flush() (err error) {
	defer bug.Recover(&err)
	mk.checkOpen()
	return nil
}

// Close releases the mask item.
func (mk *Mask) Close() (err error) {
	defer bug.Recover(&err)
	mk.checkOpen()
	mk.isOpen = false
	return mk.it.Release()
}

func checkTransfer(mode Mode, flags []int32, n int) {
	if mode != Flags && mode != Runs {
		bug.Throw(&bug.ValidationError{Arg: "mode",
			Check: "must be Flags or Runs"})
	}
	bug.ThrowIfError(types.Check("flags", flags, types.KindInteger, 4))
	if n < 0 {
		bug.Throw(&bug.ValidationError{Arg: "n", Check: "must not be negative"})
	}
}

// wordSpan returns the index and count of stored words covering n bits
// at the given bit offset.
func wordSpan(offset int64, n int) (first int64, count int) {
	first = offset / bitsPerWord
	last := (offset + int64(n) - 1) / bitsPerWord
	return first, int(last - first + 1)
}

// loadWords reads the covering words; words past the end of the item
// come back zero so fresh masks read as all clear.
func (mk *Mask) loadWords(offset int64, n int) []int32 {
	first, count := wordSpan(offset, n)
	words := make([]int32, count)
	size, serr := mk.it.Size()
	bug.ThrowIfError(serr)
	stored := int((size - 4) / 4)
	if size < 4 {
		stored = 0
	}
	avail := stored - int(first)
	if avail <= 0 {
		return words
	}
	if avail > count {
		avail = count
	}
	bug.ThrowIfError(mk.it.Read(words[:avail], 4+4*first, avail))
	return words
}

func (mk *Mask) storeWords(offset int64, words []int32) {
	first := offset / bitsPerWord
	bug.ThrowIfError(mk.it.Write(words, 4+4*first, len(words)))
}

// getBit returns bit i of the transfer as 0 or 1. The word slice
// starts at the word containing the transfer's first bit.
func getBit(words []int32, offset int64, i int) int32 {
	bit := offset + int64(i)
	w := bit/bitsPerWord - offset/bitsPerWord
	if words[w]&(1<<uint(bit%bitsPerWord)) != 0 {
		return 1
	}
	return 0
}

func setBit(words []int32, offset int64, i int, on bool) {
	bit := offset + int64(i)
	w := bit/bitsPerWord - offset/bitsPerWord
	mask := int32(1) << uint(bit%bitsPerWord)
	if on {
		words[w] |= mask
	} else {
		words[w] &^= mask
	}
}

// encodeRuns writes alternating run lengths into runs, starting with a
// possibly-zero clear-bit run, and returns the number of entries. The
// worst case is one entry per bit plus the leading run; a buffer too
// small for the actual encoding is an error.
func encodeRuns(words []int32, offset int64, n int, runs []int32) int {
	put := func(idx int, length int32) {
		if idx >= len(runs) {
			bug.Throw(&bug.ValidationError{Arg: "flags",
				Check: "too small for the run-length encoding"})
		}
		runs[idx] = length
	}
	nruns := 0
	cur := int32(0) // runs start counting clear bits
	length := int32(0)
	for i := 0; i < n; i++ {
		b := getBit(words, offset, i)
		if b == cur {
			length++
			continue
		}
		put(nruns, length)
		nruns++
		cur = b
		length = 1
	}
	put(nruns, length)
	return nruns + 1
}

// decodeRuns sets n bits from alternating run lengths.
func decodeRuns(words []int32, offset int64, n int, runs []int32) {
	i := 0
	on := false // first run is clear bits
	for _, length := range runs {
		if length < 0 {
			bug.Throw(&bug.ValidationError{Arg: "flags",
				Check: "negative run length"})
		}
		for j := int32(0); j < length && i < n; j++ {
			setBit(words, offset, i, on)
			i++
		}
		on = !on
		if i >= n {
			break
		}
	}
	if i != n {
		bug.Throw(&bug.ValidationError{Arg: "flags",
			Check: "run lengths do not cover the transfer"})
	}
}
