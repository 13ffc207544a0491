// Package prices fetches day-ahead electricity market prices and stores them
// as price buckets.
package prices

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/shopspring/decimal"
	"github.com/wattrelay/wattrelay/pkg/common"
	"github.com/wattrelay/wattrelay/pkg/sanitize"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// Provider returns day-ahead price buckets for a time range.
type Provider interface {
	DayAhead(ctx context.Context, token string, start, end time.Time) ([]types.PriceBucket, error)
}

// ENTSOE queries the ENTSO-E transparency platform for day-ahead prices
// (document type A44).
type ENTSOE struct {
	client *http.Client
	apiURL string
	zone   string
}

var _ Provider = (*ENTSOE)(nil)

// ConfiguredENTSOE sets up the provider based on flags.
func ConfiguredENTSOE() *ENTSOE {
	apiURL := lflag.String("entsoe-api-url", "https://web-api.tp.entsoe.eu/api", "Base URL of the ENTSO-E transparency API")
	zone := lflag.String("entsoe-zone", "10YFI-1--------U", "ENTSO-E bidding zone EIC code")

	e := &ENTSOE{
		client: common.HTTPClient(30 * time.Second),
	}

	lflag.Do(func() {
		e.apiURL = *apiURL
		e.zone = *zone
	})

	return e
}

// NewENTSOE returns a provider pointed at an explicit URL and zone, used by
// tests.
func NewENTSOE(apiURL, zone string) *ENTSOE {
	return &ENTSOE{
		client: common.HTTPClient(30 * time.Second),
		apiURL: apiURL,
		zone:   zone,
	}
}

// entsoeTimeFormat is the timeInterval format in A44 documents.
const entsoeTimeFormat = "2006-01-02T15:04Z"

// eurPerMWHToCentsPerKWH converts EUR/MWh to euro cents per kWh.
var eurPerMWHToCentsPerKWH = decimal.RequireFromString("0.1")

type marketDocument struct {
	XMLName    xml.Name     `xml:"Publication_MarketDocument"`
	TimeSeries []timeSeries `xml:"TimeSeries"`
}

type timeSeries struct {
	Periods []seriesPeriod `xml:"Period"`
}

type seriesPeriod struct {
	TimeInterval seriesInterval `xml:"timeInterval"`
	Resolution   string         `xml:"resolution"`
	Points       []seriesPoint  `xml:"Point"`
}

type seriesInterval struct {
	Start string `xml:"start"`
	End   string `xml:"end"`
}

type seriesPoint struct {
	Position int    `xml:"position"`
	Amount   string `xml:"price.amount"`
}

// DayAhead implements Provider.
func (e *ENTSOE) DayAhead(ctx context.Context, token string, start, end time.Time) ([]types.PriceBucket, error) {
	q := url.Values{}
	q.Set("documentType", "A44")
	q.Set("in_Domain", e.zone)
	q.Set("out_Domain", e.zone)
	q.Set("periodStart", start.UTC().Format("200601021504"))
	q.Set("periodEnd", end.UTC().Format("200601021504"))
	q.Set("securityToken", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %s", sanitize.Error(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %s", sanitize.Error(err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, sanitize.Redact(string(body)))
	}

	var doc marketDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		// error responses come back as an Acknowledgement document with a
		// different root element
		return nil, fmt.Errorf("failed to parse response: %s", sanitize.Error(err))
	}

	return bucketsFromDocument(&doc)
}

// bucketsFromDocument flattens all series periods into deduplicated, sorted
// price buckets. Positions may be sparse; a skipped position repeats the
// previous price (the platform omits points whose price is unchanged).
func bucketsFromDocument(doc *marketDocument) ([]types.PriceBucket, error) {
	byID := make(map[string]types.PriceBucket)
	for _, ts := range doc.TimeSeries {
		for _, p := range ts.Periods {
			width, err := resolutionWidth(p.Resolution)
			if err != nil {
				return nil, err
			}
			periodStart, err := time.Parse(entsoeTimeFormat, p.TimeInterval.Start)
			if err != nil {
				return nil, fmt.Errorf("bad period start %q: %w", p.TimeInterval.Start, err)
			}
			periodEnd, err := time.Parse(entsoeTimeFormat, p.TimeInterval.End)
			if err != nil {
				return nil, fmt.Errorf("bad period end %q: %w", p.TimeInterval.End, err)
			}

			byPosition := make(map[int]decimal.Decimal, len(p.Points))
			for _, pt := range p.Points {
				amount, err := decimal.NewFromString(pt.Amount)
				if err != nil {
					return nil, fmt.Errorf("bad price amount %q: %w", pt.Amount, err)
				}
				byPosition[pt.Position] = amount
			}

			positions := int(periodEnd.Sub(periodStart) / width)
			var last decimal.Decimal
			var seen bool
			for pos := 1; pos <= positions; pos++ {
				if amount, ok := byPosition[pos]; ok {
					last = amount
					seen = true
				}
				if !seen {
					continue
				}
				bStart := periodStart.Add(time.Duration(pos-1) * width)
				bEnd := bStart.Add(width)
				byID[types.BucketID(bStart, bEnd)] = types.PriceBucket{
					ID:          types.BucketID(bStart, bEnd),
					TSStart:     bStart,
					TSEnd:       bEnd,
					CentsPerKWH: last.Mul(eurPerMWHToCentsPerKWH),
				}
			}
		}
	}

	buckets := make([]types.PriceBucket, 0, len(byID))
	for _, b := range byID {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].TSStart.Before(buckets[j].TSStart)
	})
	return buckets, nil
}

func resolutionWidth(res string) (time.Duration, error) {
	switch res {
	case "PT60M":
		return time.Hour, nil
	case "PT15M":
		return 15 * time.Minute, nil
	default:
		return 0, fmt.Errorf("unsupported resolution %q", res)
	}
}
