package metrics

import (
	"math"
	"strconv"
	"strings"
)

// TimingEntry is one `name;dur=<ms>` element of a Server-Timing header.
type TimingEntry struct {
	Name       string
	DurationMs float64
}

// ParseServerTiming parses `name;dur=<ms>[, name;dur=<ms>]*`.
// Malformed segments are skipped one by one; the rest still parse.
// When a name repeats, the first occurrence wins.
func ParseServerTiming(header string) map[string]float64 {
	out := make(map[string]float64)
	for _, segment := range strings.Split(header, ",") {
		name, dur, ok := parseTimingSegment(segment)
		if !ok {
			continue
		}
		if _, dup := out[name]; dup {
			continue
		}
		out[name] = dur
	}
	return out
}

func parseTimingSegment(segment string) (string, float64, bool) {
	parts := strings.Split(segment, ";")
	name := strings.TrimSpace(parts[0])
	if name == "" || strings.ContainsAny(name, " \t=\"") {
		return "", 0, false
	}
	for _, param := range parts[1:] {
		key, value, found := strings.Cut(param, "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "dur") {
			continue
		}
		dur, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || dur < 0 || math.IsNaN(dur) || math.IsInf(dur, 0) {
			return "", 0, false
		}
		return name, dur, true
	}
	return "", 0, false
}

// FormatServerTiming renders entries in order as a Server-Timing header value.
func FormatServerTiming(entries ...TimingEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.DurationMs < 0 {
			continue
		}
		parts = append(parts, e.Name+";dur="+strconv.FormatFloat(e.DurationMs, 'f', -1, 64))
	}
	return strings.Join(parts, ", ")
}
