package schedule

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const maxDeviceTypeLen = 64

var folder = cases.Fold()

// NormalizeDeviceType returns the canonical form of a device type tag:
// NFC-normalized, case-folded, trimmed, with inner spaces as underscores.
// The result must be 1 to 64 characters of [a-z0-9_-].
//
// "Light", " light " and "LIGHT" all name the same device.
func NormalizeDeviceType(s string) (string, error) {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = folder.String(s)
	s = strings.Join(strings.Fields(s), "_")

	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDeviceType)
	}
	if len(s) > maxDeviceTypeLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidDeviceType, maxDeviceTypeLen)
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidDeviceType, s, r)
		}
	}
	return s, nil
}
