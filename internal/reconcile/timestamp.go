package reconcile

import (
	"strings"
	"time"
)

// normalizedLayout is the layout normalized timestamps compare against. It
// matches the first 19 bytes of a normalized Eventbrite UTC timestamp.
const normalizedLayout = "2006-01-02 15:04:05"

var timestampReplacer = strings.NewReplacer("T", " ", "Z", " ")

// NormalizeTimestamp swaps every "T" and "Z" for a space. It is a plain string
// substitution: "2021-05-01T10:00:00Z" becomes "2021-05-01 10:00:00 " and the
// trailing space is kept.
func NormalizeTimestamp(ts string) string {
	return timestampReplacer.Replace(ts)
}

// FormatNow renders t in UTC the way expiry compares against stored end times.
func FormatNow(t time.Time) string {
	return t.UTC().Format(normalizedLayout)
}

// ParseNormalized parses a normalized timestamp back into a UTC time.
func ParseNormalized(ts string) (time.Time, error) {
	return time.ParseInLocation(normalizedLayout, strings.TrimSpace(ts), time.UTC)
}
