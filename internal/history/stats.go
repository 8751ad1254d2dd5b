package history

import (
	"fmt"
	"math"
	"time"

	"github.com/srg/vibro/internal/reading"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Stats summarizes a set of readings.
type Stats struct {
	Count   int `json:"count"`
	Peak    int `json:"peak"`
	Average int `json:"average"`
}

// Summarize computes count, peak and the rounded mean. All zero when rs is empty.
func Summarize(rs []reading.Reading) Stats {
	if len(rs) == 0 {
		return Stats{}
	}
	s := Stats{Count: len(rs), Peak: rs[0].Value}
	sum := 0
	for _, r := range rs {
		sum += r.Value
		if r.Value > s.Peak {
			s.Peak = r.Value
		}
	}
	s.Average = int(math.Floor(float64(sum)/float64(len(rs)) + 0.5))
	return s
}

// Today returns the readings recorded on the local calendar day of now.
func Today(rs []reading.Reading, now time.Time) []reading.Reading {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)

	var out []reading.Reading
	for _, r := range rs {
		t := r.Time()
		if !t.Before(start) && t.Before(end) {
			out = append(out, r)
		}
	}
	return out
}

// TodayStats is the peak and average of today's readings.
func TodayStats(rs []reading.Reading, now time.Time) Stats {
	return Summarize(Today(rs, now))
}

// Range is a trailing time window of the history view.
type Range string

const (
	Range1h Range = "1h"
	Range6h Range = "6h"
	Range1d Range = "1d"
	Range1w Range = "1w"
)

var rangeWindows = map[Range]time.Duration{
	Range1h: time.Hour,
	Range6h: 6 * time.Hour,
	Range1d: 24 * time.Hour,
	Range1w: 7 * 24 * time.Hour,
}

// ParseRange validates a range selector.
func ParseRange(s string) (Range, error) {
	r := Range(s)
	if _, ok := rangeWindows[r]; !ok {
		return "", fmt.Errorf("unknown range %q (expected 1h, 6h, 1d or 1w)", s)
	}
	return r, nil
}

// Window is the duration covered by r.
func (r Range) Window() time.Duration {
	return rangeWindows[r]
}

// Since keeps the readings not older than window before now.
func Since(rs []reading.Reading, now time.Time, window time.Duration) []reading.Reading {
	cutoff := now.Add(-window).UnixMilli()
	var out []reading.Reading
	for _, r := range rs {
		if r.Timestamp >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

// DayLayout keys the daily summary.
const DayLayout = "2006-01-02"

// Daily groups readings by local calendar day, in the order days first appear.
func Daily(rs []reading.Reading, loc *time.Location) *orderedmap.OrderedMap[string, Stats] {
	if loc == nil {
		loc = time.Local
	}

	groups := orderedmap.New[string, []reading.Reading]()
	for _, r := range rs {
		day := r.Time().In(loc).Format(DayLayout)
		cur, _ := groups.Get(day)
		groups.Set(day, append(cur, r))
	}

	out := orderedmap.New[string, Stats]()
	for pair := groups.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, Summarize(pair.Value))
	}
	return out
}
