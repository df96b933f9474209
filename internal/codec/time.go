package codec

import "time"

// timeLayout is RFC 3339 with nanoseconds, the single timestamp format used
// across checkpoints and store rows.
const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
