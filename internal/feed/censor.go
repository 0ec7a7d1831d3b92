package feed

import (
	"sort"
	"time"

	"github.com/atmx/paper-desk/internal/model"
)

// CensorBoundary is the synthetic "now" of a recorded series: the calendar
// day (UTC) of the series' first bar at the wall clock's hour and minute, in
// the wall clock's location.
func CensorBoundary(first, now time.Time) time.Time {
	y, m, d := first.UTC().Date()
	return time.Date(y, m, d, now.Hour(), now.Minute(), 0, 0, now.Location())
}

// Censor returns the bars of raw timestamped at or before the censor
// boundary for now, ordered by timestamp. The boundary is derived from
// raw[0] as delivered, before ordering. raw is not modified.
func Censor(raw []model.PriceBar, now time.Time) []model.PriceBar {
	if len(raw) == 0 {
		return []model.PriceBar{}
	}
	boundary := CensorBoundary(raw[0].Timestamp, now)

	out := make([]model.PriceBar, 0, len(raw))
	for _, b := range raw {
		if !b.Timestamp.After(boundary) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
