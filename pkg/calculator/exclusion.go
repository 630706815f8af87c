package calculator

import (
	"strings"

	"lapse-cohort/pkg/models"
)

const sourceExclusions = "exclusions"

// ApplyExclusions removes every opted-out subscriber from the population, keeping order.
func ApplyExclusions(population []string, entries []models.ExclusionEntry, drops models.DropCounts) []string {
	excluded := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.SubscriberID) == "" {
			drops.Add(sourceExclusions, models.ReasonMissingSubscriber)
			continue
		}
		excluded[e.SubscriberID] = struct{}{}
	}

	kept := make([]string, 0, len(population))
	for _, id := range population {
		if _, ok := excluded[id]; ok {
			continue
		}
		kept = append(kept, id)
	}
	return kept
}
