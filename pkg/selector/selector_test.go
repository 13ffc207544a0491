package selector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattrelay/wattrelay/pkg/types"
)

var helsinki = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		panic(err)
	}
	return loc
}()

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bucket(start time.Time, width time.Duration, cents string) types.PriceBucket {
	end := start.Add(width)
	return types.PriceBucket{
		ID:          types.BucketID(start, end),
		TSStart:     start,
		TSEnd:       end,
		CentsPerKWH: dec(cents),
	}
}

func TestIsDayHourBoundaries(t *testing.T) {
	day := func(h, m int) time.Time {
		return time.Date(2026, 3, 2, h, m, 0, 0, helsinki)
	}

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"6:59 is night", day(6, 59), false},
		{"7:00 is day", day(7, 0), true},
		{"12:00 is day", day(12, 0), true},
		{"21:59 is day", day(21, 59), true},
		// 22:00 sharp counts as day, 22:01 does not
		{"22:00 is day", day(22, 0), true},
		{"22:01 is night", day(22, 1), false},
		{"23:00 is night", day(23, 0), false},
		{"0:00 is night", day(0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDayHour(tt.t, helsinki))
		})
	}
}

func TestIsDayHourUsesLocalClock(t *testing.T) {
	// 05:00 UTC is 07:00 in Helsinki (winter, UTC+2)
	utc := time.Date(2026, 1, 15, 5, 0, 0, 0, time.UTC)
	assert.True(t, IsDayHour(utc, helsinki))
	assert.False(t, IsDayHour(utc, time.UTC))
}

func TestEffectiveCost(t *testing.T) {
	// 12:00 local is day, 02:00 local is night
	dayBucket := bucket(time.Date(2026, 3, 2, 12, 0, 0, 0, helsinki), time.Hour, "3.0")
	nightBucket := bucket(time.Date(2026, 3, 2, 2, 0, 0, 0, helsinki), time.Hour, "3.0")

	assert.True(t, EffectiveCost(dayBucket, dec("0.5"), dec("0.2"), helsinki).Equal(dec("3.5")))
	assert.True(t, EffectiveCost(nightBucket, dec("0.5"), dec("0.2"), helsinki).Equal(dec("3.2")))
}

func TestCheapestWindowsOrdering(t *testing.T) {
	// all at night so transfer is uniform; costs 5,3,8,1
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, helsinki)
	buckets := []types.PriceBucket{
		bucket(base, time.Hour, "5"),
		bucket(base.Add(time.Hour), time.Hour, "3"),
		bucket(base.Add(2*time.Hour), time.Hour, "8"),
		bucket(base.Add(3*time.Hour), time.Hour, "1"),
	}

	starts := CheapestWindows(buckets, dec("0.5"), dec("0.2"), 2, helsinki)
	require.Len(t, starts, 2)
	assert.True(t, starts[0].Equal(buckets[3].TSStart), "cheapest first")
	assert.True(t, starts[1].Equal(buckets[1].TSStart))
}

func TestCheapestWindowsStableTies(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, helsinki)
	buckets := []types.PriceBucket{
		bucket(base, time.Hour, "2"),
		bucket(base.Add(time.Hour), time.Hour, "2"),
		bucket(base.Add(2*time.Hour), time.Hour, "2"),
	}

	starts := CheapestWindows(buckets, dec("0"), dec("0"), 2, helsinki)
	require.Len(t, starts, 2)
	// equal costs keep input order
	assert.True(t, starts[0].Equal(buckets[0].TSStart))
	assert.True(t, starts[1].Equal(buckets[1].TSStart))
}

func TestCheapestWindowsTransferFlipsRanking(t *testing.T) {
	// a slightly pricier night bucket beats a cheaper day bucket once the
	// day surcharge is folded in
	dayStart := time.Date(2026, 3, 2, 12, 0, 0, 0, helsinki)
	nightStart := time.Date(2026, 3, 2, 2, 0, 0, 0, helsinki)
	buckets := []types.PriceBucket{
		bucket(dayStart, time.Hour, "3.0"),   // 3.0 + 1.0 day = 4.0
		bucket(nightStart, time.Hour, "3.5"), // 3.5 + 0.2 night = 3.7
	}

	starts := CheapestWindows(buckets, dec("1.0"), dec("0.2"), 1, helsinki)
	require.Len(t, starts, 1)
	assert.True(t, starts[0].Equal(nightStart))
}

func TestCheapestWindowsShortInput(t *testing.T) {
	base := time.Date(2026, 3, 2, 1, 0, 0, 0, helsinki)
	// quarter-hour resolution, 1 run-hour needs 4 periods, all 4 returned
	buckets := []types.PriceBucket{
		bucket(base, 15*time.Minute, "2.0"),
		bucket(base.Add(15*time.Minute), 15*time.Minute, "1.0"),
		bucket(base.Add(30*time.Minute), 15*time.Minute, "3.0"),
		bucket(base.Add(45*time.Minute), 15*time.Minute, "1.5"),
	}

	starts := CheapestWindows(buckets, dec("0.5"), dec("0.2"), 4, helsinki)
	require.Len(t, starts, 4)
	assert.True(t, starts[0].Equal(buckets[1].TSStart))
	assert.True(t, starts[1].Equal(buckets[3].TSStart))
	assert.True(t, starts[2].Equal(buckets[0].TSStart))
	assert.True(t, starts[3].Equal(buckets[2].TSStart))

	// asking for more than exists returns everything, never errors
	starts = CheapestWindows(buckets, dec("0.5"), dec("0.2"), 10, helsinki)
	assert.Len(t, starts, 4)

	assert.Nil(t, CheapestWindows(nil, dec("0"), dec("0"), 4, helsinki))
	assert.Nil(t, CheapestWindows(buckets, dec("0"), dec("0"), 0, helsinki))
}
