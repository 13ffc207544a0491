// Package selector ranks future price buckets by effective cost for a
// device. It is pure: no I/O, no clock reads.
package selector

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// IsDayHour classifies an instant as day or night in the given location.
// Day is local hour in [7, 22), with the 22:00 sharp boundary also counted
// as day while 22:01 is night. The asymmetry at 22:00 is kept for
// compatibility with existing transfer-price contracts.
func IsDayHour(t time.Time, loc *time.Location) bool {
	lt := t.In(loc)
	h := lt.Hour()
	if h >= 7 && h < 22 {
		return true
	}
	return h == 22 && lt.Minute() == 0
}

// EffectiveCost returns the bucket's spot price plus the applicable transfer
// surcharge, in cents per kWh. All arithmetic is exact decimal.
func EffectiveCost(b types.PriceBucket, dayTransfer, nightTransfer decimal.Decimal, loc *time.Location) decimal.Decimal {
	if IsDayHour(b.TSStart, loc) {
		return b.CentsPerKWH.Add(dayTransfer)
	}
	return b.CentsPerKWH.Add(nightTransfer)
}

// CheapestWindows returns the start times of the periodsNeeded cheapest
// buckets, ordered cheapest first. Ties keep the input order (stable sort),
// so among equal-cost buckets earlier-discovered ones win. When fewer
// buckets exist than requested, all are returned.
func CheapestWindows(buckets []types.PriceBucket, dayTransfer, nightTransfer decimal.Decimal, periodsNeeded int, loc *time.Location) []time.Time {
	if periodsNeeded <= 0 || len(buckets) == 0 {
		return nil
	}

	type costed struct {
		start time.Time
		cost  decimal.Decimal
	}
	ranked := make([]costed, len(buckets))
	for i, b := range buckets {
		ranked[i] = costed{
			start: b.TSStart,
			cost:  EffectiveCost(b, dayTransfer, nightTransfer, loc),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].cost.LessThan(ranked[j].cost)
	})

	if periodsNeeded > len(ranked) {
		periodsNeeded = len(ranked)
	}
	starts := make([]time.Time, periodsNeeded)
	for i := 0; i < periodsNeeded; i++ {
		starts[i] = ranked[i].start
	}
	return starts
}
