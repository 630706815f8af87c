package calculator

import (
	"strings"

	"lapse-cohort/pkg/models"
)

// Dimension is one materialized dimension source together with its predicate.
type Dimension struct {
	Name    string
	Filter  models.DimensionFilter
	Records []models.DimensionRecord
}

// EnrichProfiles left-joins the driving population against every dimension in order.
// A dimension's filter is applied before its join; a subscriber failing it keeps the
// attributes of the other dimensions. Earlier dimensions win for attributes more than
// one dimension provides. Subscribers without any match get empty attributes.
func EnrichProfiles(population []string, dims []Dimension, drops models.DropCounts) map[string]models.ProfileAttributes {
	indexes := make([]map[string]models.DimensionRecord, len(dims))
	for i, dim := range dims {
		indexes[i] = indexDimension(dim, drops)
	}

	out := make(map[string]models.ProfileAttributes, len(population))
	for _, id := range population {
		var attrs models.ProfileAttributes
		for _, idx := range indexes {
			if rec, ok := idx[id]; ok {
				fillAbsent(&attrs, rec.ProfileAttributes)
			}
		}
		out[id] = attrs
	}
	return out
}

// indexDimension keys the rows passing the filter by subscriber. Duplicate rows of a
// subscriber resolve to the most recent status date; on equal dates the first row wins.
func indexDimension(dim Dimension, drops models.DropCounts) map[string]models.DimensionRecord {
	source := "dimension:" + dim.Name
	allow := newDimensionPredicate(dim.Filter)

	idx := make(map[string]models.DimensionRecord, len(dim.Records))
	for _, rec := range dim.Records {
		if strings.TrimSpace(rec.SubscriberID) == "" {
			drops.Add(source, models.ReasonMissingSubscriber)
			continue
		}
		if !allow(rec) {
			continue
		}
		cur, ok := idx[rec.SubscriberID]
		if ok && !newerStatus(rec, cur) {
			continue
		}
		idx[rec.SubscriberID] = rec
	}
	return idx
}

func newerStatus(candidate, current models.DimensionRecord) bool {
	switch {
	case candidate.StatusDate == nil:
		return false
	case current.StatusDate == nil:
		return true
	}
	return candidate.StatusDate.After(*current.StatusDate)
}

func newDimensionPredicate(f models.DimensionFilter) func(models.DimensionRecord) bool {
	statuses := make(map[string]struct{}, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	excluded := make(map[string]struct{}, len(f.ExcludedServiceNumbers))
	for _, n := range f.ExcludedServiceNumbers {
		excluded[strings.TrimSpace(n)] = struct{}{}
	}

	return func(rec models.DimensionRecord) bool {
		if f.ExcludeGovernment && rec.Government {
			return false
		}
		if len(statuses) > 0 {
			if rec.Status == nil {
				return false
			}
			if _, ok := statuses[strings.ToLower(strings.TrimSpace(*rec.Status))]; !ok {
				return false
			}
		}
		if f.Product != "" && !strings.EqualFold(strings.TrimSpace(rec.Product), f.Product) {
			return false
		}
		if rec.ServiceNumber != "" {
			if _, ok := excluded[strings.TrimSpace(rec.ServiceNumber)]; ok {
				return false
			}
		}
		return true
	}
}

func fillAbsent(dst *models.ProfileAttributes, src models.ProfileAttributes) {
	if dst.ActivationDate == nil {
		dst.ActivationDate = src.ActivationDate
	}
	if dst.Status == nil {
		dst.Status = src.Status
	}
	if dst.StatusDate == nil {
		dst.StatusDate = src.StatusDate
	}
	if dst.Region == nil {
		dst.Region = src.Region
	}
	if dst.District == nil {
		dst.District = src.District
	}
	if dst.Street == nil {
		dst.Street = src.Street
	}
	if dst.DeviceCategory == nil {
		dst.DeviceCategory = src.DeviceCategory
	}
	if dst.DeviceType == nil {
		dst.DeviceType = src.DeviceType
	}
	if dst.DeviceBrand == nil {
		dst.DeviceBrand = src.DeviceBrand
	}
	if dst.DeviceModel == nil {
		dst.DeviceModel = src.DeviceModel
	}
	if dst.BirthYear == nil {
		dst.BirthYear = src.BirthYear
	}
	if dst.Gender == nil {
		dst.Gender = src.Gender
	}
}
