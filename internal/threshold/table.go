package threshold

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed ranges.cue
var rangesCUE []byte

// Field names. These are the only keys a threshold set may carry.
const (
	Temperature     = "temperature"
	Humidity        = "humidity"
	CO2             = "co2"
	LightIntensity  = "light_intensity"
	AirQualityIndex = "air_quality_index"
	SoilMoisture    = "soil_moisture"
)

// FieldNames lists every threshold field in a fixed order.
var FieldNames = []string{Temperature, Humidity, CO2, LightIntensity, AirQualityIndex, SoilMoisture}

// Field is one declared threshold range.
type Field struct {
	Name    string  `json:"-"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Unit    string  `json:"unit"`
	Legacy  bool    `json:"legacy"`
}

// Table is the declared range table, keyed by field name.
type Table struct {
	Version int
	fields  map[string]Field
}

// LoadError reports a range table that does not compile or does not match
// the fields this package knows.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadTable compiles a CUE range table. Every field in FieldNames must be
// declared, and nothing else.
func LoadTable(src []byte, filename string) (*Table, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	version, err := v.LookupPath(cue.ParsePath("version")).Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	var decoded map[string]Field
	if err := fieldsVal.Decode(&decoded); err != nil {
		return nil, formatCUEError(err)
	}

	t := &Table{Version: int(version), fields: make(map[string]Field, len(decoded))}
	for _, name := range FieldNames {
		f, ok := decoded[name]
		if !ok {
			return nil, &LoadError{Field: name, Message: "field is not declared", Pos: fieldsVal.Pos()}
		}
		f.Name = name
		t.fields[name] = f
	}
	if len(decoded) != len(FieldNames) {
		extra := make([]string, 0)
		for name := range decoded {
			if _, ok := t.fields[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return nil, &LoadError{Field: extra[0], Message: "unknown threshold field", Pos: fieldsVal.Pos()}
	}
	return t, nil
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := LoadTable(rangesCUE, "ranges.cue")
	if err != nil {
		panic(fmt.Sprintf("embedded threshold table: %v", err))
	}
	return t
})

// DefaultTable returns the embedded range table.
func DefaultTable() *Table {
	return defaultTable()
}

// Field returns the declared range for name.
func (t *Table) Field(name string) (Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Fields returns every declared range in FieldNames order.
func (t *Table) Fields() []Field {
	out := make([]Field, 0, len(FieldNames))
	for _, name := range FieldNames {
		out = append(out, t.fields[name])
	}
	return out
}

// Defaults returns a set holding every field's default.
func (t *Table) Defaults() Set {
	var s Set
	for _, f := range t.fields {
		*s.ptr(f.Name) = f.Default
	}
	return s
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
