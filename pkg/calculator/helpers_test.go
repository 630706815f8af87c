package calculator

import (
	"time"

	"github.com/shopspring/decimal"

	"lapse-cohort/pkg/models"
)

var ref = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
}

func strPtr(s string) *string { return &s }

func refill(id string, days int, amount int64) models.TransactionEvent {
	return models.TransactionEvent{
		SubscriberID: id,
		EventDate:    daysAgo(days),
		Category:     "Private Person",
		BusinessLine: "Mobile",
		AccountType:  "Pre-paid",
		Amount:       decimal.NewFromInt(amount),
	}
}

func topup(id string, days int, amount int64, offer string) models.TransactionEvent {
	ev := refill(id, days, amount)
	ev.OfferID = strPtr(offer)
	return ev
}

func sequence(events ...models.TransactionEvent) []models.TransactionEvent {
	for i := range events {
		events[i].Seq = i
	}
	return events
}
