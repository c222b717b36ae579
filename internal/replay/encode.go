package replay

import (
	"math"
	"time"
)

// layouts cycle through the timestamp encodings the server must accept:
// Z and numeric offsets, with and without fractional seconds.
var layouts = []struct {
	layout string
	zone   *time.Location
}{
	{"2006-01-02T15:04:05.999999Z07:00", time.UTC},
	{"2006-01-02T15:04:05.000000-07:00", time.FixedZone("", 0)},
	{"2006-01-02T15:04:05.999999-07:00", time.FixedZone("", 5*3600+30*60)},
	{"2006-01-02T15:04:05.000000Z", time.UTC},
	{"2006-01-02T15:04:05.999999-07:00", time.FixedZone("", -4*3600)},
}

// encodeTimestamp renders t using the i-th encoding.
func encodeTimestamp(t time.Time, i int) string {
	l := layouts[i%len(layouts)]
	return t.In(l.zone).Format(l.layout)
}

// offsetTime converts seconds after base into an instant with microsecond
// precision.
func offsetTime(base time.Time, seconds float64) time.Time {
	return base.Add(time.Duration(math.Round(seconds*1e6)) * time.Microsecond)
}
