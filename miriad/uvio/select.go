package uvio

import (
	"math"
	"math/cmplx"

	"github.com/miriadio/go-native-miriad/miriad/bug"
)

// selectClause is one accepted selection criterion. Include clauses
// narrow the stream to records inside the window; exclude clauses drop
// records inside it.
type selectClause struct {
	object  string
	p1, p2  float64
	source  string
	include bool
}

// Select adds a selection window honored by subsequent reads. Objects:
//
//	"time"        p1..p2 on the time variable
//	"visibility"  p1..p2 on the one-based record number
//	"amplitude"   records with a channel amplitude in p1..p2
//	"auto"        autocorrelations (p1, p2 ignored)
//	"shadow"      records shadowed by a dish of diameter p1
func (uv *UV) Select(object string, p1, p2 float64, include bool) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	switch object {
	case "time", "visibility", "amplitude", "auto", "shadow":
	default:
		bug.Throw(&bug.ValidationError{Arg: "object",
			Check: "unknown selection object " + object})
	}
	if object == "shadow" && p1 <= 0 {
		bug.Throw(&bug.ValidationError{Arg: "p1",
			Check: "shadow selection needs a positive diameter"})
	}
	uv.selection = append(uv.selection,
		selectClause{object: object, p1: p1, p2: p2, include: include})
	if object == "shadow" {
		uv.shadowDiam = p1
	}
	return nil
}

// SelectSource narrows the stream to records whose source variable
// matches (or, for exclude, does not match) the given name.
func (uv *UV) SelectSource(name string, include bool) (err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	uv.selection = append(uv.selection,
		selectClause{object: "source", source: name, include: include})
	return nil
}

// ClearSelection discards all accumulated selection criteria.
func (uv *UV) ClearSelection() {
	uv.selection = nil
	uv.shadowDiam = 0
}

func (uv *UV) passesSelection() bool {
	for i := range uv.selection {
		c := &uv.selection[i]
		if c.matches(uv) != c.include {
			return false
		}
	}
	return true
}

func (c *selectClause) matches(uv *UV) bool {
	switch c.object {
	case "time":
		t := uv.double("time")
		return t >= c.p1 && t <= c.p2
	case "visibility":
		n := float64(uv.visNo)
		return n >= c.p1 && n <= c.p2
	case "amplitude":
		v := uv.varByName["corr"]
		if v == nil || v.data == nil {
			return false
		}
		vals, cerr := v.asComplex()
		bug.ThrowIfError(cerr)
		for _, x := range vals {
			a := cmplx.Abs(complex128(x))
			if a >= c.p1 && a <= c.p2 {
				return true
			}
		}
		return false
	case "auto":
		a1, a2 := baselineAnts(uv.double("baseline"))
		return a1 == a2
	case "source":
		s, serr := uv.GetVarFirstString("source", "")
		bug.ThrowIfError(serr)
		return s == c.source
	case "shadow":
		return uv.shadowed(c.p1)
	}
	return false
}

// shadowed reports whether the current record's projected baseline is
// shorter than the dish diameter, the geometric shadowing criterion
// applied in the uv plane. Coordinates and the diameter must share
// units.
func (uv *UV) shadowed(diameter float64) bool {
	coord := uv.doubles("coord")
	if len(coord) < 2 {
		return false
	}
	return math.Hypot(coord[0], coord[1]) < diameter
}

// ProbeShadow reports whether shadow testing is available on this
// stream.
func (uv *UV) ProbeShadow() bool {
	return true
}

// CheckShadow reports whether the record most recently read is
// shadowed by a dish of the given diameter. A diameter of zero falls
// back to the one given in a prior shadow selection; one of those must
// exist either way, so that selection and post-checking agree on the
// geometry.
func (uv *UV) CheckShadow(diameter float64) (shadowed bool, err error) {
	defer bug.Recover(&err)
	uv.checkOpen()
	if uv.shadowDiam == 0 {
		bug.Throw(bug.ErrNotImplemented)
	}
	if diameter == 0 {
		diameter = uv.shadowDiam
	}
	if diameter <= 0 {
		bug.Throw(&bug.ValidationError{Arg: "diameter",
			Check: "must be positive"})
	}
	return uv.shadowed(diameter), nil
}
