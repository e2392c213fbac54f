package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsActive_SameDayWindow(t *testing.T) {
	s := DeviceSchedule{DeviceType: "fan", Start: 360, End: 1320, Enabled: true}

	assert.False(t, IsActive(s, 359))
	assert.True(t, IsActive(s, 360), "start is inclusive")
	assert.True(t, IsActive(s, 720))
	assert.True(t, IsActive(s, 1319))
	assert.False(t, IsActive(s, 1320), "end is exclusive")
	assert.False(t, IsActive(s, 0))
}

func TestIsActive_CrossesMidnight(t *testing.T) {
	s := DeviceSchedule{DeviceType: DeviceLight, Start: 1320, End: 360, Enabled: true}

	assert.True(t, IsActive(s, 1410))
	assert.True(t, IsActive(s, 120))
	assert.True(t, IsActive(s, 1320))
	assert.True(t, IsActive(s, 0))
	assert.True(t, IsActive(s, 359))
	assert.False(t, IsActive(s, 360))
	assert.False(t, IsActive(s, 720))
	assert.False(t, IsActive(s, 1319))
}

func TestIsActive_ZeroLengthNeverActive(t *testing.T) {
	for _, at := range []Minute{0, 600, 1439} {
		s := DeviceSchedule{DeviceType: "pump", Start: at, End: at, Enabled: true}
		for now := Minute(0); now < MinutesPerDay; now++ {
			if IsActive(s, now) {
				t.Fatalf("zero-length window at %s active at %s", at, now)
			}
		}
	}
}

func TestIsActive_DisabledOverridesWindow(t *testing.T) {
	windows := []DeviceSchedule{
		{Start: 0, End: 1439},
		{Start: 1320, End: 360},
		{Start: 360, End: 1320},
	}
	for _, s := range windows {
		s.Enabled = false
		for now := Minute(0); now < MinutesPerDay; now++ {
			if IsActive(s, now) {
				t.Fatalf("disabled schedule %s-%s active at %s", s.Start, s.End, now)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	s := DeviceSchedule{DeviceType: " Light ", Start: 0, End: 1439, Enabled: true}
	require.NoError(t, Validate(&s))
	assert.Equal(t, "light", s.DeviceType)

	bad := []DeviceSchedule{
		{DeviceType: "light", Start: -1, End: 10},
		{DeviceType: "light", Start: 0, End: 1440},
		{DeviceType: "light", Start: 5000, End: 10},
	}
	for _, b := range bad {
		assert.ErrorIs(t, Validate(&b), ErrInvalidScheduleTime)
	}

	empty := DeviceSchedule{DeviceType: "  ", Start: 1, End: 2}
	assert.ErrorIs(t, Validate(&empty), ErrInvalidDeviceType)
}

func TestActiveDevices(t *testing.T) {
	schedules := map[string]DeviceSchedule{
		"light": {DeviceType: "light", Start: 1320, End: 360, Enabled: true},
		"fan":   {DeviceType: "fan", Start: 0, End: 1439, Enabled: true},
		"pump":  {DeviceType: "pump", Start: 600, End: 660, Enabled: true},
		"heat":  {DeviceType: "heat", Start: 0, End: 1439, Enabled: false},
	}

	assert.Equal(t, []string{"fan", "light"}, ActiveDevices(schedules, 120))
	assert.Equal(t, []string{"fan", "pump"}, ActiveDevices(schedules, 630))
	assert.Equal(t, []string{}, ActiveDevices(nil, 630))
}

func TestParseMinute(t *testing.T) {
	tests := []struct {
		in   string
		want Minute
	}{
		{"00:00", 0},
		{"08:00", 480},
		{"8:05", 485},
		{"20:00", 1200},
		{"23:59", 1439},
		{"0", 0},
		{"1439", 1439},
		{" 360 ", 360},
	}
	for _, tt := range tests {
		got, err := ParseMinute(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, in := range []string{"", "24:00", "12:60", "12:5", "noon", "1440", "-1", "1:2:3", ":30",
		"+8:00", "-0:00", "08:+5", "+480", "8: 05"} {
		_, err := ParseMinute(in)
		assert.ErrorIs(t, err, ErrInvalidScheduleTime, in)
	}
}

func TestMinute_StringAndJSON(t *testing.T) {
	assert.Equal(t, "22:00", Minute(1320).String())
	assert.Equal(t, "00:05", Minute(5).String())

	data, err := Minute(1320).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"22:00"`, string(data))

	var m Minute
	require.NoError(t, m.UnmarshalJSON([]byte(`"06:30"`)))
	assert.Equal(t, Minute(390), m)
	require.NoError(t, m.UnmarshalJSON([]byte(`45`)))
	assert.Equal(t, Minute(45), m)
	assert.ErrorIs(t, m.UnmarshalJSON([]byte(`2000`)), ErrInvalidScheduleTime)
}

func TestMinuteOf(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC)
	assert.Equal(t, Minute(1290), MinuteOf(at))
	assert.Equal(t, Minute(1410), MinuteOf(at.In(loc)))
}

func TestParseStored(t *testing.T) {
	s, err := ParseStored("Light", "1320", "360", "1")
	require.NoError(t, err)
	assert.Equal(t, DeviceSchedule{DeviceType: "light", Start: 1320, End: 360, Enabled: true}, s)

	s, err = ParseStored("fan", "08:00", "20:00", "false")
	require.NoError(t, err)
	assert.False(t, s.Enabled)
	assert.Equal(t, Minute(480), s.Start)

	s, err = ParseStored("fan", "1", "2", "")
	require.NoError(t, err)
	assert.True(t, s.Enabled)

	_, err = ParseStored("fan", "9999", "2", "1")
	assert.ErrorIs(t, err, ErrInvalidScheduleTime)

	_, err = ParseStored("", "1", "2", "1")
	assert.ErrorIs(t, err, ErrInvalidDeviceType)

	_, err = ParseStored("fan", "1", "2", "maybe")
	assert.Error(t, err)
}
