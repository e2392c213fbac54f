package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidScheduleTime is returned for a start or end outside [0, 1439].
	ErrInvalidScheduleTime = errors.New("invalid schedule time")

	// ErrInvalidDeviceType is returned for an empty or malformed device type.
	ErrInvalidDeviceType = errors.New("invalid device type")
)

// DeviceLight is the device type the legacy light window maps to.
const DeviceLight = "light"

// DeviceSchedule is the daily on window of one device.
type DeviceSchedule struct {
	DeviceType string `json:"device_type"`
	Start      Minute `json:"start_time"`
	End        Minute `json:"end_time"`
	Enabled    bool   `json:"enabled"`
}

// IsActive reports whether the device should be on at minute now.
//
// A window with Start < End is active for Start <= now < End. A window with
// Start > End crosses midnight and is active for now >= Start or now < End.
// Start == End is a zero-length window and is never active.
func IsActive(s DeviceSchedule, now Minute) bool {
	if !s.Enabled {
		return false
	}
	switch {
	case s.Start < s.End:
		return s.Start <= now && now < s.End
	case s.Start > s.End:
		return now >= s.Start || now < s.End
	}
	return false
}

// Validate checks both times and normalizes the device type in place.
func Validate(s *DeviceSchedule) error {
	if !s.Start.Valid() {
		return fmt.Errorf("%w: start %d outside [0, %d]", ErrInvalidScheduleTime, int(s.Start), MinutesPerDay-1)
	}
	if !s.End.Valid() {
		return fmt.Errorf("%w: end %d outside [0, %d]", ErrInvalidScheduleTime, int(s.End), MinutesPerDay-1)
	}
	dt, err := NormalizeDeviceType(s.DeviceType)
	if err != nil {
		return err
	}
	s.DeviceType = dt
	return nil
}

// ActiveDevices returns the device types active at now, sorted.
func ActiveDevices(schedules map[string]DeviceSchedule, now Minute) []string {
	active := []string{}
	for dt, s := range schedules {
		if IsActive(s, now) {
			active = append(active, dt)
		}
	}
	sort.Strings(active)
	return active
}

// ParseStored builds a schedule from loosely typed stored columns. Times may
// be minute counts or HH:MM; enabled may be 0/1 or a boolean word and
// defaults to true when empty.
func ParseStored(deviceType, start, end, enabled string) (DeviceSchedule, error) {
	dt, err := NormalizeDeviceType(deviceType)
	if err != nil {
		return DeviceSchedule{}, err
	}
	s, err := ParseMinute(start)
	if err != nil {
		return DeviceSchedule{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseMinute(end)
	if err != nil {
		return DeviceSchedule{}, fmt.Errorf("end: %w", err)
	}

	on := true
	if v := strings.TrimSpace(enabled); v != "" {
		on, err = strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			n, nerr := strconv.Atoi(v)
			if nerr != nil {
				return DeviceSchedule{}, fmt.Errorf("enabled: %q is not a boolean", enabled)
			}
			on = n != 0
		}
	}
	return DeviceSchedule{DeviceType: dt, Start: s, End: e, Enabled: on}, nil
}
