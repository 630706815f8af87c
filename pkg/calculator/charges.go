package calculator

import (
	"strings"

	"github.com/shopspring/decimal"

	"lapse-cohort/pkg/models"
)

const sourceCharges = "charges"

// AggregateLifetimeCharges sums the full charge history per subscriber. Subscribers
// without any charge row get no entry.
func AggregateLifetimeCharges(facts []models.ChargeFact, drops models.DropCounts) map[string]models.LifetimeChargeTotal {
	sums := make(map[string]decimal.Decimal)
	for _, f := range facts {
		if strings.TrimSpace(f.SubscriberID) == "" {
			drops.Add(sourceCharges, models.ReasonMissingSubscriber)
			continue
		}
		sums[f.SubscriberID] = sums[f.SubscriberID].Add(f.Amount)
	}

	out := make(map[string]models.LifetimeChargeTotal, len(sums))
	for id, total := range sums {
		out[id] = models.LifetimeChargeTotal{SubscriberID: id, TotalCharge: total}
	}
	return out
}
