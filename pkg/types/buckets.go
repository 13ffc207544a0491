package types

import (
	"time"
)

// Resolution is the native width of price buckets returned by the market
// data provider.
type Resolution int

const (
	ResolutionUnknown Resolution = iota
	ResolutionHourly
	ResolutionQuarterHour
)

// String implements fmt.Stringer.
func (r Resolution) String() string {
	switch r {
	case ResolutionHourly:
		return "PT60M"
	case ResolutionQuarterHour:
		return "PT15M"
	default:
		return "unknown"
	}
}

// BucketWidth returns the duration of a single bucket at this resolution.
func (r Resolution) BucketWidth() time.Duration {
	switch r {
	case ResolutionQuarterHour:
		return 15 * time.Minute
	default:
		return time.Hour
	}
}

// BucketsPerHour returns how many buckets cover one hour at this resolution.
func (r Resolution) BucketsPerHour() int {
	switch r {
	case ResolutionQuarterHour:
		return 4
	default:
		return 1
	}
}

// DetectResolution inspects a bucket list and reports whether it is hourly or
// quarter-hourly data. The gap between the first two starts decides; a single
// bucket falls back to its own width. Empty or irregular input reports
// ResolutionUnknown.
func DetectResolution(buckets []PriceBucket) Resolution {
	switch len(buckets) {
	case 0:
		return ResolutionUnknown
	case 1:
		return widthResolution(buckets[0].TSEnd.Sub(buckets[0].TSStart))
	}
	return widthResolution(buckets[1].TSStart.Sub(buckets[0].TSStart))
}

func widthResolution(d time.Duration) Resolution {
	switch d {
	case 15 * time.Minute:
		return ResolutionQuarterHour
	case time.Hour:
		return ResolutionHourly
	default:
		return ResolutionUnknown
	}
}

// QuarterWindow is a 15-minute slice of a price bucket. Hourly buckets
// expand to four windows carrying the same source bucket ID.
type QuarterWindow struct {
	TSStart  time.Time
	TSEnd    time.Time
	BucketID string
}

// QuarterHourWindows resamples buckets to 15-minute windows via forward-fill.
// Quarter-hour buckets map one-to-one; hourly buckets repeat for each quarter
// they cover. Windows keep the source bucket's ID so callers can resolve an
// instant back to the assignment-bearing bucket.
func QuarterHourWindows(buckets []PriceBucket) []QuarterWindow {
	var windows []QuarterWindow
	for _, b := range buckets {
		for start := b.TSStart; start.Before(b.TSEnd); start = start.Add(15 * time.Minute) {
			end := start.Add(15 * time.Minute)
			if end.After(b.TSEnd) {
				end = b.TSEnd
			}
			windows = append(windows, QuarterWindow{
				TSStart:  start,
				TSEnd:    end,
				BucketID: b.ID,
			})
		}
	}
	return windows
}

// BucketIDsCovering returns the IDs of all buckets whose quarter-hour windows
// overlap [start, end). Duplicate IDs are collapsed.
func BucketIDsCovering(buckets []PriceBucket, start, end time.Time) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, w := range QuarterHourWindows(buckets) {
		if w.TSStart.Before(end) && w.TSEnd.After(start) && !seen[w.BucketID] {
			seen[w.BucketID] = true
			ids = append(ids, w.BucketID)
		}
	}
	return ids
}
