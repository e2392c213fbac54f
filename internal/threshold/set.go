package threshold

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Set is a complete threshold set. Every field is within its declared range
// when produced by Sanitize.
type Set struct {
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	Humidity        float64 `json:"humidity" yaml:"humidity"`
	CO2             float64 `json:"co2" yaml:"co2"`
	LightIntensity  float64 `json:"light_intensity" yaml:"light_intensity"`
	AirQualityIndex float64 `json:"air_quality_index" yaml:"air_quality_index"`
	SoilMoisture    float64 `json:"soil_moisture" yaml:"soil_moisture"`
}

// Get returns the value of a named field.
func (s Set) Get(name string) (float64, bool) {
	p := s.ptr(name)
	if p == nil {
		return 0, false
	}
	return *p, true
}

func (s *Set) ptr(name string) *float64 {
	switch name {
	case Temperature:
		return &s.Temperature
	case Humidity:
		return &s.Humidity
	case CO2:
		return &s.CO2
	case LightIntensity:
		return &s.LightIntensity
	case AirQualityIndex:
		return &s.AirQualityIndex
	case SoilMoisture:
		return &s.SoilMoisture
	}
	return nil
}

// AsRaw returns the set in the shape it is stored in.
func (s Set) AsRaw() Raw {
	raw := make(Raw, len(FieldNames))
	for _, name := range FieldNames {
		v, _ := s.Get(name)
		raw[name] = v
	}
	return raw
}

// Raw is a threshold set as stored: arbitrary keys, arbitrary values.
type Raw map[string]any

// ParseRaw decodes stored threshold JSON. Numbers are kept as json.Number so
// no precision is lost before sanitizing. Empty input is an empty set.
func ParseRaw(data []byte) (Raw, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Raw{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	if raw == nil {
		raw = Raw{}
	}
	return raw, nil
}

// Marshal encodes the raw set as JSON with sorted keys.
func (r Raw) Marshal() (string, error) {
	data, err := json.Marshal(map[string]any(r))
	if err != nil {
		return "", fmt.Errorf("marshal thresholds: %w", err)
	}
	return string(data), nil
}

// Marshal encodes the set as stored JSON.
func (s Set) Marshal() (string, error) {
	return s.AsRaw().Marshal()
}

// formatValue renders a value for logs and correction reports.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
