package threshold

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Reason says why a field was corrected.
type Reason string

const (
	ReasonMissing     Reason = "missing"
	ReasonUnparseable Reason = "unparseable"
	ReasonBelowMin    Reason = "below-min"
	ReasonAboveMax    Reason = "above-max"
	ReasonUnknown     Reason = "unknown-field"
)

// Correction describes one change Sanitize made.
type Correction struct {
	Field  string `json:"field"`
	Reason Reason `json:"reason"`
	Before string `json:"before"`
	After  string `json:"after,omitempty"`
}

func (c Correction) String() string {
	if c.After == "" {
		return fmt.Sprintf("%s: %s (%s dropped)", c.Field, c.Reason, c.Before)
	}
	return fmt.Sprintf("%s: %s %s -> %s", c.Field, c.Reason, c.Before, c.After)
}

// Sanitize coerces raw into a complete, in-range Set. It never fails.
// corrected is true when any field was defaulted or clamped, or an unknown
// key was dropped; the caller should then persist the result.
func (t *Table) Sanitize(raw Raw) (Set, bool) {
	s, corrections := t.Inspect(raw)
	return s, len(corrections) > 0
}

// Inspect is Sanitize with the individual corrections, ordered by field name.
func (t *Table) Inspect(raw Raw) (Set, []Correction) {
	var (
		s           Set
		corrections []Correction
	)

	for _, name := range FieldNames {
		f := t.fields[name]
		value, c := f.sanitize(raw)
		*s.ptr(name) = value
		if c != nil {
			corrections = append(corrections, *c)
		}
	}

	for key, v := range raw {
		if _, ok := t.fields[key]; ok {
			continue
		}
		corrections = append(corrections, Correction{
			Field:  key,
			Reason: ReasonUnknown,
			Before: describe(v),
		})
	}

	sort.SliceStable(corrections, func(i, j int) bool {
		return corrections[i].Field < corrections[j].Field
	})
	return s, corrections
}

// Sanitize applies the default table.
func Sanitize(raw Raw) (Set, bool) {
	return DefaultTable().Sanitize(raw)
}

// InRange reports whether every field of s lies within its declared range.
func (t *Table) InRange(s Set) bool {
	for _, f := range t.fields {
		v, _ := s.Get(f.Name)
		if math.IsNaN(v) || v < f.Min || v > f.Max {
			return false
		}
	}
	return true
}

func (f Field) sanitize(raw Raw) (float64, *Correction) {
	v, present := raw[f.Name]
	if !present {
		return f.Default, &Correction{Field: f.Name, Reason: ReasonMissing, Before: "<missing>", After: formatValue(f.Default)}
	}

	n, ok := coerce(v)
	if !ok {
		return f.Default, &Correction{Field: f.Name, Reason: ReasonUnparseable, Before: describe(v), After: formatValue(f.Default)}
	}

	switch {
	case n < f.Min:
		return f.Min, &Correction{Field: f.Name, Reason: ReasonBelowMin, Before: describe(v), After: formatValue(f.Min)}
	case n > f.Max:
		return f.Max, &Correction{Field: f.Name, Reason: ReasonAboveMax, Before: describe(v), After: formatValue(f.Max)}
	}
	return n, nil
}

// coerce turns a stored value into a number. NaN counts as unparseable;
// infinities parse and are clamped by the caller.
func coerce(v any) (float64, bool) {
	var (
		n   float64
		err error
	)
	switch x := v.(type) {
	case json.Number:
		n, err = strconv.ParseFloat(x.String(), 64)
		if err != nil && !isRangeErr(err) {
			return 0, false
		}
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case int32:
		n = float64(x)
	case uint64:
		n = float64(x)
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil && !isRangeErr(err) {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

// isRangeErr reports an overflowing literal. ParseFloat returns ±Inf for
// those, which clamps like any other out-of-range number.
func isRangeErr(err error) bool {
	var numErr *strconv.NumError
	return errors.As(err, &numErr) && numErr.Err == strconv.ErrRange
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case json.Number:
		return x.String()
	case float64:
		return formatValue(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
