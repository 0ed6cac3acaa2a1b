// Package testdata generates realistic conversion streams for load and
// integration tests.
package testdata

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// ConversionConfig configures conversion generation
type ConversionConfig struct {
	ProgramID      string
	Promoters      int
	Contacts       int
	Purchases      int     // purchases spread over the contacts
	MinAmount      float64 // major units
	MaxAmount      float64
	Items          []string
	Start          time.Time
	Span           time.Duration
	Seed           int64
	UTMCampaigns   []string
	ExternalChance float64 // 0.0-1.0 (probability of an external order id)
}

// DefaultConversionConfig returns a small program with a handful of promoters
func DefaultConversionConfig(programID string) ConversionConfig {
	return ConversionConfig{
		ProgramID:      programID,
		Promoters:      5,
		Contacts:       40,
		Purchases:      100,
		MinAmount:      5,
		MaxAmount:      250,
		Items:          []string{"starter-plan", "pro-plan", "team-plan", "addon-seats"},
		Start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Span:           30 * 24 * time.Hour,
		Seed:           42,
		UTMCampaigns:   []string{"spring", "newsletter", "partner"},
		ExternalChance: 0.5,
	}
}

type contact struct {
	id       string
	promoter string
	link     string
	joined   time.Time
}

// GenerateConversions returns one signup per contact followed by purchases,
// sorted by OccurredAt. The same seed always yields the same stream.
func GenerateConversions(cfg ConversionConfig) []rules.TriggerEvent {
	faker := gofakeit.New(cfg.Seed)

	promoters := make([]string, max(cfg.Promoters, 1))
	for i := range promoters {
		promoters[i] = "prm_" + faker.Username()
	}

	end := cfg.Start.Add(cfg.Span)
	contacts := make([]contact, cfg.Contacts)
	events := make([]rules.TriggerEvent, 0, cfg.Contacts+cfg.Purchases)
	for i := range contacts {
		promoter := promoters[faker.Number(0, len(promoters)-1)]
		contacts[i] = contact{
			id:       "cnt_" + faker.UUID(),
			promoter: promoter,
			link:     fmt.Sprintf("lnk_%s_%d", promoter, faker.Number(1, 3)),
			joined:   faker.DateRange(cfg.Start, end),
		}
		ev := newEvent(faker, cfg, contacts[i], rules.TriggerSignup, contacts[i].joined)
		events = append(events, ev)
	}

	if len(contacts) > 0 {
		for i := 0; i < cfg.Purchases; i++ {
			c := contacts[faker.Number(0, len(contacts)-1)]
			ev := newEvent(faker, cfg, c, rules.TriggerPurchase, faker.DateRange(c.joined, end))
			ev.Amount = rules.Money(math.Round(faker.Float64Range(cfg.MinAmount, cfg.MaxAmount) * 100))
			if len(cfg.Items) > 0 {
				ev.ItemID = faker.RandomString(cfg.Items)
			}
			if faker.Float64() < cfg.ExternalChance {
				ev.ExternalID = fmt.Sprintf("ord_%d", faker.Number(100000, 999999))
			}
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	return events
}

func newEvent(faker *gofakeit.Faker, cfg ConversionConfig, c contact, trigger rules.Trigger, at time.Time) rules.TriggerEvent {
	ev := rules.TriggerEvent{
		SourceEventID: "evt_" + faker.UUID(),
		ProgramID:     cfg.ProgramID,
		Trigger:       trigger,
		ContactID:     c.id,
		PromoterID:    c.promoter,
		LinkID:        c.link,
		OccurredAt:    at,
	}
	if len(cfg.UTMCampaigns) > 0 {
		ev.UTMParams = map[string]string{
			"utm_source":   "affiliate",
			"utm_campaign": faker.RandomString(cfg.UTMCampaigns),
		}
	}
	return ev
}

// CountByPromoter tallies signups and purchases per promoter
func CountByPromoter(events []rules.TriggerEvent) map[string]rules.Facts {
	out := make(map[string]rules.Facts)
	for _, ev := range events {
		f := out[ev.PromoterID]
		switch ev.Trigger {
		case rules.TriggerSignup:
			f.SignUps++
		case rules.TriggerPurchase:
			f.Purchases++
			f.Revenue += ev.Amount
		}
		out[ev.PromoterID] = f
	}
	return out
}
