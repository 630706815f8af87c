package calculator

import (
	"context"
	"time"

	"lapse-cohort/pkg/models"
)

// LedgerQuery is the part of the ledger a run needs: events dated in [From, To], both
// inclusive. Implementations may push the predicates down; FilterLedger enforces them
// again.
type LedgerQuery struct {
	From         time.Time
	To           time.Time
	Categories   []string
	BusinessLine string
	AccountType  string
}

// Sources are the read-only snapshots a run is computed from.
type Sources interface {
	LedgerEvents(ctx context.Context, q LedgerQuery) ([]models.TransactionEvent, error)
	ChargeFacts(ctx context.Context) ([]models.ChargeFact, error)
	Dimensions(ctx context.Context) ([]Dimension, error)
	Exclusions(ctx context.Context) ([]models.ExclusionEntry, error)
}

// MemorySources is a snapshot already held in memory.
type MemorySources struct {
	Ledger    []models.TransactionEvent
	Charges   []models.ChargeFact
	Dims      []Dimension
	Exclusion []models.ExclusionEntry
}

var _ Sources = (*MemorySources)(nil)

func (m *MemorySources) LedgerEvents(_ context.Context, _ LedgerQuery) ([]models.TransactionEvent, error) {
	return m.Ledger, nil
}

func (m *MemorySources) ChargeFacts(_ context.Context) ([]models.ChargeFact, error) {
	return m.Charges, nil
}

func (m *MemorySources) Dimensions(_ context.Context) ([]Dimension, error) {
	return m.Dims, nil
}

func (m *MemorySources) Exclusions(_ context.Context) ([]models.ExclusionEntry, error) {
	return m.Exclusion, nil
}
