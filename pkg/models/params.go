package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

/*
CONFIG → run parameters. Every stage reads the reference instant from here, never
from the clock.
*/

// Variant selects the classifier configuration.
type Variant string

const (
	// VariantRefill keys the cohort purely on refill recency.
	VariantRefill Variant = "refill"
	// VariantRefillTopUp adds the top-up stream as a left enrichment.
	VariantRefillTopUp Variant = "refill_topup"
)

const (
	DefaultLowerDays      = 60
	DefaultUpperDays      = 90
	DefaultLookbackMonths = 3
)

// Population predicate defaults.
var (
	DefaultCategories   = []string{"Private Person", "Family"}
	DefaultBusinessLine = "Mobile"
	DefaultAccountType  = "Pre-paid"
)

// Params contains the parameters of a single run.
type Params struct {
	ReferenceInstant time.Time `validate:"required"`
	LowerDays        int       `validate:"gte=0"`
	UpperDays        int       `validate:"gtefield=LowerDays"`
	LookbackMonths   int       `validate:"gte=1"`
	Variant          Variant   `validate:"oneof=refill refill_topup"`
	Categories       []string  `validate:"min=1,dive,required"`
	BusinessLine     string    `validate:"required"`
	AccountType      string    `validate:"required"`
	// ShardCount is the number of recency aggregation workers.
	ShardCount int `validate:"gte=1"`
}

// DefaultParams returns the documented defaults anchored on ref.
func DefaultParams(ref time.Time) Params {
	return Params{
		ReferenceInstant: ref,
		LowerDays:        DefaultLowerDays,
		UpperDays:        DefaultUpperDays,
		LookbackMonths:   DefaultLookbackMonths,
		Variant:          VariantRefillTopUp,
		Categories:       append([]string{}, DefaultCategories...),
		BusinessLine:     DefaultBusinessLine,
		AccountType:      DefaultAccountType,
		ShardCount:       1,
	}
}

// DimensionFilter is the predicate of a dimension source, applied before its join.
type DimensionFilter struct {
	ExcludeGovernment      bool
	Statuses               []string
	Product                string
	ExcludedServiceNumbers []string
}

// DefaultDimensionFilter mirrors the subscriber dimension contract:
// no government accounts, Active or Partial status, Mobile Phone product.
func DefaultDimensionFilter() DimensionFilter {
	return DimensionFilter{
		ExcludeGovernment: true,
		Statuses:          []string{"Active", "Partial"},
		Product:           "Mobile Phone",
	}
}

/*
REPORT → what a run hands back to its caller.
*/

// Drop reasons.
const (
	ReasonMissingSubscriber = "missing_subscriber_id"
	ReasonMissingDate       = "missing_event_date"
	ReasonNegativeAmount    = "negative_amount"
)

// DropKey identifies a malformed-input counter.
type DropKey struct {
	Source string
	Reason string
}

// DropCounts counts malformed records dropped per source and reason.
type DropCounts map[DropKey]int

// Add increments the counter for source/reason.
func (d DropCounts) Add(source, reason string) {
	d[DropKey{Source: source, Reason: reason}]++
}

// Merge adds every counter of other into d.
func (d DropCounts) Merge(other DropCounts) {
	for k, v := range other {
		d[k] += v
	}
}

// Total returns the number of dropped records.
func (d DropCounts) Total() int {
	total := 0
	for _, v := range d {
		total += v
	}
	return total
}

// Keys returns the counters in a stable order.
func (d DropCounts) Keys() []DropKey {
	keys := make([]DropKey, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Reason < keys[j].Reason
	})
	return keys
}

// Stage names used in RunReport.StageCounts, logs and metrics.
const (
	StageLedgerRefill  = "ledger_refill"
	StageLedgerTopUp   = "ledger_topup"
	StageRefillRecency = "refill_recency"
	StageWindow        = "window"
	StageTopUp         = "topup_recency"
	StageCharges       = "lifetime_charges"
	StageEnriched      = "enriched"
	StageExcluded      = "excluded"
	StageOutput        = "output"
)

// RunReport is the result of one pipeline run.
type RunReport struct {
	RunID            uuid.UUID
	ReferenceInstant time.Time
	Variant          Variant
	Rows             []SegmentationRow
	StageCounts      map[string]int
	Drops            DropCounts
}
