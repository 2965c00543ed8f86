// Rounded single-unit durations ("21 seconds", "2 hours") for run listings
package duration

import (
	"math"
	"strconv"
	"time"
)

var units = []struct {
	length   float64 // in milliseconds
	singular string
	plural   string
}{
	{86400.0 * 1000.0, "day", "days"},
	{3600.0 * 1000.0, "hour", "hours"},
	{60.0 * 1000.0, "minute", "minutes"},
	{1.0 * 1000.0, "second", "seconds"},
}

func Humanize(dur time.Duration) string {
	milliseconds := float64(dur.Milliseconds())

	for _, unit := range units {
		if count := int(math.Round(milliseconds / unit.length)); count > 0 {
			return pluralize(count, unit.singular, unit.plural)
		}
	}

	return pluralize(int(milliseconds), "millisecond", "milliseconds")
}

func pluralize(num int, singular string, plural string) string {
	if num == 1 {
		return strconv.Itoa(num) + " " + singular
	}

	return strconv.Itoa(num) + " " + plural
}
