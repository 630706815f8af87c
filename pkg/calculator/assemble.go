package calculator

import (
	"lapse-cohort/pkg/models"
)

// AssembleRows builds one row per subscriber of the population. Population entries must
// be unique and present in refills; every other input is optional.
func AssembleRows(
	population []string,
	refills map[string]models.RecencyMetric,
	topups map[string]models.RecencyMetric,
	charges map[string]models.LifetimeChargeTotal,
	profiles map[string]models.ProfileAttributes,
) []models.SegmentationRow {
	rows := make([]models.SegmentationRow, 0, len(population))
	for _, id := range population {
		refill := refills[id]
		row := models.SegmentationRow{
			SubscriberID:      id,
			LastRefillDate:    refill.LastEventDate,
			RefillElapsedDays: refill.ElapsedDays,
			LastRefillAmount:  refill.Event.Amount,
			ProfileAttributes: profiles[id],
		}

		if t, ok := topups[id]; ok {
			date := t.LastEventDate
			days := t.ElapsedDays
			amount := t.Event.Amount
			row.LastTopUpDate = &date
			row.TopUpElapsedDays = &days
			row.TopUpAmount = &amount
			row.TopUpOfferID = t.Event.OfferID
		}
		if c, ok := charges[id]; ok {
			total := c.TotalCharge
			row.TotalCharge = &total
		}
		rows = append(rows, row)
	}
	return rows
}
