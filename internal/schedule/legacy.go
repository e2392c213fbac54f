package schedule

// FromLegacyLight builds the light schedule from the single light window
// older units stored as light_start_time/light_end_time. ok is false when
// either value is missing or does not parse.
func FromLegacyLight(start, end string) (s DeviceSchedule, ok bool) {
	st, err := ParseMinute(start)
	if err != nil {
		return DeviceSchedule{}, false
	}
	en, err := ParseMinute(end)
	if err != nil {
		return DeviceSchedule{}, false
	}
	return DeviceSchedule{DeviceType: DeviceLight, Start: st, End: en, Enabled: true}, true
}
