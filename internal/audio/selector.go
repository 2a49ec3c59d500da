package audio

import (
	"strings"
)

// DeviceMatcher returns true when the device name is a preferred capture
// source.
type DeviceMatcher func(name string) bool

// SubstringMatcher matches device names that contain substr, ignoring case.
func SubstringMatcher(substr string) DeviceMatcher {
	substr = strings.ToLower(substr)
	return func(name string) bool {
		return strings.Contains(strings.ToLower(name), substr)
	}
}

// MatchersFromSubstrings builds a list of substring matchers. Empty entries
// are skipped.
func MatchersFromSubstrings(substrs ...string) []DeviceMatcher {
	res := make([]DeviceMatcher, 0, len(substrs))
	for _, s := range substrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		res = append(res, SubstringMatcher(s))
	}
	return res
}

// DefaultMatcherSubstrings are the names that identify loopback sources on
// PulseAudio/PipeWire hosts ("Monitor of ..." and "... Analog Stereo").
var DefaultMatcherSubstrings = []string{"monitor", "analog stereo"}

// DefaultMatchers returns the default list of preferred device matchers.
func DefaultMatchers() []DeviceMatcher {
	return MatchersFromSubstrings(DefaultMatcherSubstrings...)
}

// SelectDevice picks the capture device to stream from. The first device (in
// enumeration order) whose name is accepted by any of the matchers wins. If no
// device matches, the device flagged as default is used. Returns ErrNoDevice
// if neither step yields a device.
func SelectDevice(devs []Device, matchers []DeviceMatcher) (Device, error) {
	for _, dev := range devs {
		for _, match := range matchers {
			if match(dev.Name) {
				return dev, nil
			}
		}
	}

	for _, dev := range devs {
		if dev.IsDefault {
			return dev, nil
		}
	}

	return Device{}, ErrNoDevice
}
