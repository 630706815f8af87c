package calculator

import (
	"sort"

	"lapse-cohort/pkg/models"
)

// ClassifyWindow keeps the subscribers whose elapsed days fall in [lower, upper] and
// returns their identifiers sorted. This is the driving population of the run.
func ClassifyWindow(refills map[string]models.RecencyMetric, lower, upper int) []string {
	population := make([]string, 0, len(refills))
	for id, m := range refills {
		if m.ElapsedDays < lower || m.ElapsedDays > upper {
			continue
		}
		population = append(population, id)
	}
	sort.Strings(population)
	return population
}

// TopUpDetails restricts the top-up recency to the driving population. The amount and
// offer of the latest top-up are carried on the metric's Event, so no lookup back into
// the ledger is needed.
func TopUpDetails(population []string, topups map[string]models.RecencyMetric) map[string]models.RecencyMetric {
	out := make(map[string]models.RecencyMetric)
	for _, id := range population {
		if m, ok := topups[id]; ok {
			out[id] = m
		}
	}
	return out
}
