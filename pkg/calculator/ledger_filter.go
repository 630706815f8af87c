package calculator

import (
	"strings"

	"lapse-cohort/pkg/models"
)

const sourceLedger = "ledger"

// LedgerStreams are the two filtered event streams of the ledger.
type LedgerStreams struct {
	Refills []models.TransactionEvent
	TopUps  []models.TransactionEvent
}

// FilterLedger keeps the target population inside the lookback horizon and splits it
// into refills and top-ups. Top-ups must also be strictly older than the lower lapse
// bound. Malformed rows are counted in drops.
func FilterLedger(events []models.TransactionEvent, p models.Params, drops models.DropCounts) LedgerStreams {
	from, to := LedgerWindow(p)
	categories := make(map[string]struct{}, len(p.Categories))
	for _, c := range p.Categories {
		categories[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	var out LedgerStreams
	for _, ev := range events {
		if reason, ok := malformedEvent(ev); !ok {
			drops.Add(sourceLedger, reason)
			continue
		}
		if _, ok := categories[strings.ToLower(strings.TrimSpace(ev.Category))]; !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(ev.BusinessLine), p.BusinessLine) ||
			!strings.EqualFold(strings.TrimSpace(ev.AccountType), p.AccountType) {
			continue
		}
		if !ev.Amount.IsPositive() {
			continue
		}
		if ev.EventDate.Before(from) || ev.EventDate.After(to) {
			continue
		}
		if ev.IsTopUp() {
			if elapsedDays(p.ReferenceInstant, ev.EventDate) <= p.LowerDays {
				continue
			}
			out.TopUps = append(out.TopUps, ev)
			continue
		}
		out.Refills = append(out.Refills, ev)
	}
	return out
}

func malformedEvent(ev models.TransactionEvent) (string, bool) {
	switch {
	case strings.TrimSpace(ev.SubscriberID) == "":
		return models.ReasonMissingSubscriber, false
	case ev.EventDate.IsZero():
		return models.ReasonMissingDate, false
	case ev.Amount.IsNegative():
		return models.ReasonNegativeAmount, false
	}
	return "", true
}
