package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bucketAt(start time.Time, width time.Duration, cents string) PriceBucket {
	end := start.Add(width)
	return PriceBucket{
		ID:          BucketID(start, end),
		TSStart:     start,
		TSEnd:       end,
		CentsPerKWH: decimal.RequireFromString(cents),
	}
}

func TestBucketID(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	assert.Equal(t, "2026-03-01T12:00:00Z_2026-03-01T13:00:00Z", BucketID(start, end))

	// same instant in another zone produces the same ID
	loc, err := time.LoadLocation("Europe/Helsinki")
	require.NoError(t, err)
	assert.Equal(t, BucketID(start, end), BucketID(start.In(loc), end.In(loc)))
}

func TestAssignmentID(t *testing.T) {
	id := AssignmentID("user1", "dev1", "b1")
	assert.Equal(t, "user1_dev1_b1", id)
	assert.NotEqual(t, id, AssignmentID("user1", "dev2", "b1"))
}

func TestDetectResolution(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		buckets []PriceBucket
		want    Resolution
	}{
		{
			name: "empty",
			want: ResolutionUnknown,
		},
		{
			name:    "single hourly",
			buckets: []PriceBucket{bucketAt(base, time.Hour, "1")},
			want:    ResolutionHourly,
		},
		{
			name:    "single quarter",
			buckets: []PriceBucket{bucketAt(base, 15*time.Minute, "1")},
			want:    ResolutionQuarterHour,
		},
		{
			name: "hourly pair",
			buckets: []PriceBucket{
				bucketAt(base, time.Hour, "1"),
				bucketAt(base.Add(time.Hour), time.Hour, "2"),
			},
			want: ResolutionHourly,
		},
		{
			name: "quarter pair",
			buckets: []PriceBucket{
				bucketAt(base, 15*time.Minute, "1"),
				bucketAt(base.Add(15*time.Minute), 15*time.Minute, "2"),
			},
			want: ResolutionQuarterHour,
		},
		{
			name: "irregular gap",
			buckets: []PriceBucket{
				bucketAt(base, time.Hour, "1"),
				bucketAt(base.Add(7*time.Hour), time.Hour, "2"),
			},
			want: ResolutionUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectResolution(tt.buckets))
		})
	}
}

func TestResolutionHelpers(t *testing.T) {
	assert.Equal(t, time.Hour, ResolutionHourly.BucketWidth())
	assert.Equal(t, 15*time.Minute, ResolutionQuarterHour.BucketWidth())
	assert.Equal(t, 1, ResolutionHourly.BucketsPerHour())
	assert.Equal(t, 4, ResolutionQuarterHour.BucketsPerHour())
	assert.Equal(t, "PT60M", ResolutionHourly.String())
	assert.Equal(t, "PT15M", ResolutionQuarterHour.String())
}

func TestQuarterHourWindows(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	hourly := bucketAt(base, time.Hour, "3.5")
	windows := QuarterHourWindows([]PriceBucket{hourly})
	require.Len(t, windows, 4)
	for i, w := range windows {
		assert.Equal(t, base.Add(time.Duration(i)*15*time.Minute), w.TSStart)
		assert.Equal(t, 15*time.Minute, w.TSEnd.Sub(w.TSStart))
		assert.Equal(t, hourly.ID, w.BucketID)
	}

	quarter := bucketAt(base, 15*time.Minute, "3.5")
	windows = QuarterHourWindows([]PriceBucket{quarter})
	require.Len(t, windows, 1)
	assert.Equal(t, quarter.ID, windows[0].BucketID)
	assert.Equal(t, quarter.TSEnd, windows[0].TSEnd)
}

func TestBucketIDsCovering(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	hourly := bucketAt(base, time.Hour, "1")
	next := bucketAt(base.Add(time.Hour), time.Hour, "2")
	buckets := []PriceBucket{hourly, next}

	// a quarter in the middle of the first hour resolves to the hourly bucket
	ids := BucketIDsCovering(buckets, base.Add(30*time.Minute), base.Add(45*time.Minute))
	require.Len(t, ids, 1)
	assert.Equal(t, hourly.ID, ids[0])

	// a range spanning the hour boundary hits both, without duplicates
	ids = BucketIDsCovering(buckets, base.Add(45*time.Minute), base.Add(75*time.Minute))
	assert.Equal(t, []string{hourly.ID, next.ID}, ids)

	// outside any bucket
	ids = BucketIDsCovering(buckets, base.Add(3*time.Hour), base.Add(4*time.Hour))
	assert.Empty(t, ids)
}
