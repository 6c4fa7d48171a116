package subtitles

import (
	"fmt"
	"regexp"
	"strconv"
)

var timecodeRe = regexp.MustCompile(`^(?:(\d+):)?(\d+):(\d+)[.,](\d{1,3})$`)

// parseTimecode parses "[HH:]MM:SS,mmm" or "[HH:]MM:SS.mmm" into
// milliseconds.
func parseTimecode(s string) (int64, error) {
	m := timecodeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bad timecode %q", s)
	}

	var hours int64
	if m[1] != "" {
		hours, _ = strconv.ParseInt(m[1], 10, 64)
	}
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	seconds, _ := strconv.ParseInt(m[3], 10, 64)

	// Pad fractional part to milliseconds
	frac := m[4]
	for len(frac) < 3 {
		frac += "0"
	}
	millis, _ := strconv.ParseInt(frac, 10, 64)

	return ((hours*60+minutes)*60+seconds)*1000 + millis, nil
}

// formatTimecode renders milliseconds as "HH:MM:SS<sep>mmm".
func formatTimecode(ms int64, sep string) string {
	hours := ms / 3600000
	minutes := (ms % 3600000) / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, seconds, sep, millis)
}
