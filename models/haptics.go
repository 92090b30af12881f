package models

import "time"

// HapticPattern names a vibration cue bound to a semantic event.
type HapticPattern string

const (
	HapticTap       HapticPattern = "tap"
	HapticSuccess   HapticPattern = "success"
	HapticError     HapticPattern = "error"
	HapticReady     HapticPattern = "ready"
	HapticRecording HapticPattern = "recording"
)

var hapticDurations = map[HapticPattern][]time.Duration{
	HapticTap:       {50 * time.Millisecond},
	HapticSuccess:   {50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond},
	HapticError:     {200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond},
	HapticReady:     {100 * time.Millisecond},
	HapticRecording: {20 * time.Millisecond},
}

// Durations returns the on/off vibration schedule, starting with "on".
// Unknown patterns vibrate nothing.
func (p HapticPattern) Durations() []time.Duration {
	d := hapticDurations[p]
	out := make([]time.Duration, len(d))
	copy(out, d)
	return out
}

// Millis is the pattern in the integer millisecond form device vibration APIs take.
func (p HapticPattern) Millis() []int64 {
	d := hapticDurations[p]
	out := make([]int64, 0, len(d))
	for _, v := range d {
		out = append(out, v.Milliseconds())
	}
	return out
}
