package schedule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the number of minutes in a schedule day.
const MinutesPerDay = 24 * 60

// Minute is a minute of the day, 0 through 1439.
type Minute int

// Valid reports whether m is within [0, 1439].
func (m Minute) Valid() bool {
	return m >= 0 && m < MinutesPerDay
}

// String formats m as HH:MM.
func (m Minute) String() string {
	if !m.Valid() {
		return fmt.Sprintf("invalid(%d)", int(m))
	}
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// MarshalJSON encodes m as "HH:MM".
func (m Minute) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts "HH:MM" or a bare minute count.
func (m *Minute) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidScheduleTime, data)
		}
		s = strconv.Itoa(n)
	}
	v, err := ParseMinute(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MinuteOf returns the minute of day of t in t's location.
func MinuteOf(t time.Time) Minute {
	return Minute(t.Hour()*60 + t.Minute())
}

// ParseMinute parses "HH:MM" (or "H:MM") or a plain minute count.
func ParseMinute(s string) (Minute, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidScheduleTime)
	}

	if h, mm, ok := strings.Cut(s, ":"); ok {
		if !isDigits(h) || !isDigits(mm) || len(mm) != 2 || len(h) > 2 {
			return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidScheduleTime, s)
		}
		hour, _ := strconv.Atoi(h)
		mins, _ := strconv.Atoi(mm)
		if hour < 0 || hour > 23 || mins < 0 || mins > 59 {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidScheduleTime, s)
		}
		return Minute(hour*60 + mins), nil
	}

	if !isDigits(s) {
		return 0, fmt.Errorf("%w: %q is not a time", ErrInvalidScheduleTime, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a time", ErrInvalidScheduleTime, s)
	}
	m := Minute(n)
	if !m.Valid() {
		return 0, fmt.Errorf("%w: %d outside [0, %d]", ErrInvalidScheduleTime, n, MinutesPerDay-1)
	}
	return m, nil
}

// isDigits reports whether s is non-empty and only ASCII digits. Atoi alone
// would accept a leading sign.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
