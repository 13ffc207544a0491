package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/shopspring/decimal"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

func main() {
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	devices := []types.Device{
		{
			ID:                 "boiler",
			Owner:              "demo",
			Name:               "Water boiler",
			CloudDeviceID:      "a8032ab12345",
			AuthKey:            "demo-auth-key",
			Server:             "https://shelly-001-eu.shelly.cloud",
			RelayChannel:       0,
			AutomationEnabled:  true,
			RunHoursPerDay:     4,
			DayTransferCents:   decimal.RequireFromString("4.9"),
			NightTransferCents: decimal.RequireFromString("2.8"),
		},
		{
			ID:                 "floor-heating",
			Owner:              "demo",
			Name:               "Bathroom floor heating",
			CloudDeviceID:      "a8032ab67890",
			AuthKey:            "demo-auth-key",
			Server:             "https://shelly-001-eu.shelly.cloud",
			RelayChannel:       1,
			AutomationEnabled:  true,
			RunHoursPerDay:     6,
			DayTransferCents:   decimal.RequireFromString("4.9"),
			NightTransferCents: decimal.RequireFromString("2.8"),
			ThermostatID:       "bathroom",
		},
	}
	for _, d := range devices {
		if err := s.UpsertDevice(ctx, d); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed device", "error", err)
			os.Exit(1)
		}
	}

	if err := s.UpsertThermostat(ctx, types.ThermostatDevice{
		ID:                 "bathroom",
		Owner:              "demo",
		MinTemperature:     21,
		MaxTemperature:     26,
		CurrentTemperature: 23.5,
		LastReadingAt:      time.Now(),
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed thermostat", "error", err)
		os.Exit(1)
	}

	// a day and a half of hourly prices starting at the top of this hour,
	// shaped roughly like a Nordic spot curve
	start := time.Now().UTC().Truncate(time.Hour)
	for i := 0; i < 36; i++ {
		t := start.Add(time.Duration(i) * time.Hour)
		hour := t.Hour()

		base := 3.0
		if hour >= 6 && hour < 9 {
			base = 9.5 // morning peak
		} else if hour >= 10 && hour < 15 {
			base = 4.0
		} else if hour >= 17 && hour < 21 {
			base = 12.0 // evening peak
		} else if hour >= 21 || hour < 6 {
			base = 1.5 // night
		}
		base += (rng.Float64() * 1.0) - 0.5

		b := types.PriceBucket{
			TSStart:     t,
			TSEnd:       t.Add(time.Hour),
			CentsPerKWH: decimal.NewFromFloat(base).Round(3),
		}
		b.ID = types.BucketID(b.TSStart, b.TSEnd)

		if err := s.UpsertPriceBucket(ctx, b); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed price bucket", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded price at %s: %s c/kWh\n", t.Format(time.Kitchen), b.CentsPerKWH.String())
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
