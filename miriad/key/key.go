// Package key parses task parameters given as key=value arguments,
// where each value is a comma-separated list consumed one element per
// call. Every reader takes a default returned when the keyword is
// exhausted, and keywords never consumed are warned about when the set
// is finished.
package key

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/miriadio/go-native-miriad/miriad/bug"
)

// ErrFinished means the keyword set was used after Fin. Malformed
// arguments and values are validation errors: they are caller mistakes
// caught before anything is consumed, not I/O faults.
var ErrFinished = errors.New("keyword set already finished")

// Keys is one task invocation's parameter set.
type Keys struct {
	task    string
	queues  map[string][]string
	touched map[string]bool
	done    bool
}

// Init parses the task's arguments (excluding the program name). Each
// must be key=value; commas inside a value separate list elements, and
// a repeated keyword extends its list.
func Init(task string, args []string) (k *Keys, err error) {
	defer bug.Recover(&err)
	k = &Keys{
		task:    task,
		queues:  make(map[string][]string),
		touched: make(map[string]bool),
	}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			bug.Throw(&bug.ValidationError{Arg: arg,
				Check: task + ": arguments must be key=value"})
		}
		if value == "" {
			continue
		}
		for _, v := range strings.Split(value, ",") {
			if v != "" {
				k.queues[name] = append(k.queues[name], v)
			}
		}
	}
	return k, nil
}

func (k *Keys) checkLive() {
	if k.done {
		bug.Throw(ErrFinished)
	}
}

// Fin finishes the parameter set. Keywords that were given but never
// consumed are reported as warnings, the usual sign of a misspelled
// parameter.
func (k *Keys) Fin() (err error) {
	defer bug.Recover(&err)
	k.checkLive()
	k.done = true
	for name, vals := range k.queues {
		if !k.touched[name] && len(vals) > 0 {
			bug.Reportf(bug.Warning, "%s: parameter %s was given but never used",
				k.task, name)
		}
	}
	return nil
}

// Present reports whether the keyword still has unconsumed values.
func (k *Keys) Present(key string) bool {
	return !k.done && len(k.queues[key]) > 0
}

// next consumes one raw value, or returns false when the keyword is
// exhausted.
func (k *Keys) next(key string) (string, bool) {
	k.checkLive()
	k.touched[key] = true
	vals := k.queues[key]
	if len(vals) == 0 {
		return "", false
	}
	k.queues[key] = vals[1:]
	return vals[0], true
}

// GetString consumes one value of the keyword, or returns def.
func (k *Keys) GetString(key, def string) (value string, err error) {
	defer bug.Recover(&err)
	v, ok := k.next(key)
	if !ok {
		return def, nil
	}
	return v, nil
}

// GetFile consumes one value as a file name, cleaned of redundant
// path elements.
func (k *Keys) GetFile(key, def string) (value string, err error) {
	defer bug.Recover(&err)
	v, ok := k.next(key)
	if !ok {
		return def, nil
	}
	return filepath.Clean(v), nil
}

// GetInt consumes one integer value of the keyword, or returns def.
func (k *Keys) GetInt(key string, def int32) (value int32, err error) {
	defer bug.Recover(&err)
	v, ok := k.next(key)
	if !ok {
		return def, nil
	}
	n, perr := strconv.ParseInt(v, 10, 32)
	if perr != nil {
		bug.Throw(&bug.ValidationError{Arg: key,
			Check: fmt.Sprintf("%s: %q is not an integer", k.task, v)})
	}
	return int32(n), nil
}

// GetDouble consumes one double value of the keyword, or returns def.
func (k *Keys) GetDouble(key string, def float64) (value float64, err error) {
	defer bug.Recover(&err)
	v, ok := k.next(key)
	if !ok {
		return def, nil
	}
	f, perr := strconv.ParseFloat(v, 64)
	if perr != nil {
		bug.Throw(&bug.ValidationError{Arg: key,
			Check: fmt.Sprintf("%s: %q is not a number", k.task, v)})
	}
	return f, nil
}

// GetReal consumes one real value of the keyword, or returns def.
func (k *Keys) GetReal(key string, def float32) (value float32, err error) {
	defer bug.Recover(&err)
	v, verr := k.GetDouble(key, float64(def))
	bug.ThrowIfError(verr)
	return float32(v), nil
}

// GetBool consumes one boolean value: true/false, yes/no, t/f, y/n
// or 1/0.
func (k *Keys) GetBool(key string, def bool) (value bool, err error) {
	defer bug.Recover(&err)
	v, ok := k.next(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "yes", "t", "y", "1":
		return true, nil
	case "false", "no", "f", "n", "0":
		return false, nil
	}
	bug.Throw(&bug.ValidationError{Arg: key,
		Check: fmt.Sprintf("%s: %q is not a boolean", k.task, v)})
	panic("not reached")
}

// GetInts consumes up to max integer values.
func (k *Keys) GetInts(key string, max int) (values []int32, err error) {
	defer bug.Recover(&err)
	for len(values) < max && k.Present(key) {
		v, verr := k.GetInt(key, 0)
		bug.ThrowIfError(verr)
		values = append(values, v)
	}
	return values, nil
}

// GetDoubles consumes up to max double values.
func (k *Keys) GetDoubles(key string, max int) (values []float64, err error) {
	defer bug.Recover(&err)
	for len(values) < max && k.Present(key) {
		v, verr := k.GetDouble(key, 0)
		bug.ThrowIfError(verr)
		values = append(values, v)
	}
	return values, nil
}

// GetReals consumes up to max real values.
func (k *Keys) GetReals(key string, max int) (values []float32, err error) {
	defer bug.Recover(&err)
	for len(values) < max && k.Present(key) {
		v, verr := k.GetReal(key, 0)
		bug.ThrowIfError(verr)
		values = append(values, v)
	}
	return values, nil
}

// GetMatch consumes up to max values, each of which must be an
// unambiguous prefix of one of the allowed options; the expanded
// option names are returned.
func (k *Keys) GetMatch(key string, options []string, max int) (values []string, err error) {
	defer bug.Recover(&err)
	for len(values) < max && k.Present(key) {
		v, _ := k.next(key)
		match := ""
		for _, opt := range options {
			if !strings.HasPrefix(opt, v) {
				continue
			}
			if match != "" {
				bug.Throw(&bug.ValidationError{Arg: key,
					Check: fmt.Sprintf("%s: %q is ambiguous", k.task, v)})
			}
			match = opt
		}
		if match == "" {
			bug.Throw(&bug.ValidationError{Arg: key,
				Check: fmt.Sprintf("%s: %q matches no option", k.task, v)})
		}
		values = append(values, match)
	}
	return values, nil
}
