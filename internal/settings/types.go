package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/growkeeper/internal/schedule"
	"github.com/roach88/growkeeper/internal/threshold"
)

// Unit is a grow unit.
type Unit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Dimensions of a grow unit in centimetres.
type Dimensions struct {
	Width  float64 `json:"width,omitempty"`
	Depth  float64 `json:"depth,omitempty"`
	Height float64 `json:"height,omitempty"`
}

func (d Dimensions) valid() bool {
	for _, v := range []float64{d.Width, d.Depth, d.Height} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// LegacyLightWindow is the single light window stored by older versions.
// It is read back unchanged so older readers keep working.
type LegacyLightWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// UnitSettings is everything configured for one unit.
type UnitSettings struct {
	UnitID        string                             `json:"unit_id"`
	Thresholds    threshold.Set                      `json:"thresholds"`
	Schedules     map[string]schedule.DeviceSchedule `json:"schedules"`
	LegacyLight   *LegacyLightWindow                 `json:"legacy_light,omitempty"`
	Dimensions    *Dimensions                        `json:"dimensions,omitempty"`
	CameraEnabled bool                               `json:"camera_enabled"`
	UpdatedAt     time.Time                          `json:"updated_at"`
}

func parseDimensions(s string) (*Dimensions, bool) {
	if s == "" {
		return nil, true
	}
	var d Dimensions
	if err := json.Unmarshal([]byte(s), &d); err != nil || !d.valid() {
		return nil, false
	}
	return &d, true
}

// parseStoredFlag reads a boolean column that older versions wrote as 0/1,
// a boolean word or a number. Empty means off. ok is false when the value
// is none of those; the flag is then off.
func parseStoredFlag(s string) (on bool, ok bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return false, true
	case "yes", "on", "y":
		return true, true
	case "no", "off", "n":
		return false, true
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b, true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
		return f != 0, true
	}
	return false, false
}
