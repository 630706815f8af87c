package models

import (
	"time"

	"github.com/shopspring/decimal"
)

/*
LOAD → raw facts as read from the ledger, charge, dimension and exclusion snapshots.
*/

// TransactionEvent is one ledger row. OfferID absent (nil or empty) marks a refill,
// present marks a top-up.
type TransactionEvent struct {
	SubscriberID string
	EventDate    time.Time
	Category     string
	BusinessLine string
	AccountType  string
	Amount       decimal.Decimal
	OfferID      *string
	// Seq is the arrival order of the row inside its snapshot; used as the last tie-break.
	Seq int
}

// IsTopUp reports whether the event belongs to the top-up stream.
func (e TransactionEvent) IsTopUp() bool {
	return e.OfferID != nil && *e.OfferID != ""
}

// ChargeFact is one historical charge row.
type ChargeFact struct {
	SubscriberID string
	Amount       decimal.Decimal
}

// ProfileAttributes holds every enrichment attribute. Nil means absent.
type ProfileAttributes struct {
	ActivationDate *time.Time
	Status         *string
	StatusDate     *time.Time
	Region         *string
	District       *string
	Street         *string
	DeviceCategory *string
	DeviceType     *string
	DeviceBrand    *string
	DeviceModel    *string
	BirthYear      *int
	Gender         *string
}

// SubscriberProfile is the dimensional view of a subscriber.
type SubscriberProfile struct {
	SubscriberID string
	ProfileAttributes
}

// DimensionRecord is a dimension row together with the attributes its source
// predicates are evaluated on.
type DimensionRecord struct {
	SubscriberProfile
	Government    bool
	Product       string
	ServiceNumber string
}

// ExclusionEntry is one opt-out identifier.
type ExclusionEntry struct {
	SubscriberID string
}

/*
COMPUTE → intermediate datasets, one per pipeline stage.
*/

// RecencyMetric is the per-subscriber recency of one stream. Event is the ledger row
// that produced LastEventDate.
type RecencyMetric struct {
	SubscriberID  string
	LastEventDate time.Time
	ElapsedDays   int
	Event         TransactionEvent
}

// LifetimeChargeTotal is the sum of every charge fact of a subscriber.
type LifetimeChargeTotal struct {
	SubscriberID string
	TotalCharge  decimal.Decimal
}

// SegmentationRow is one output row of the cohort.
type SegmentationRow struct {
	SubscriberID      string
	LastRefillDate    time.Time
	RefillElapsedDays int
	LastRefillAmount  decimal.Decimal

	LastTopUpDate    *time.Time
	TopUpElapsedDays *int
	TopUpAmount      *decimal.Decimal
	TopUpOfferID     *string

	TotalCharge *decimal.Decimal

	ProfileAttributes
}
