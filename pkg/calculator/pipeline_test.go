package calculator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lapse-cohort/pkg/metrics"
	"lapse-cohort/pkg/models"
)

func scenarioSources() *MemorySources {
	return &MemorySources{
		Ledger: sequence(
			// A: latest refill 30 days ago, outside the window
			refill("S1", 62, 10),
			refill("S1", 30, 10),
			// B + C: refill 75 days ago and a PROMO1 top-up 80 days ago
			refill("S2", 75, 10),
			topup("S2", 80, 5, "PROMO1"),
			// C: no top-up at all
			refill("S3", 70, 8),
			// E: no dimension row anywhere
			refill("S4", 88, 3),
			// boundaries
			refill("D59", 59, 1),
			refill("D60", 60, 1),
			refill("D90", 90, 1),
			refill("D91", 91, 1),
		),
		Charges: []models.ChargeFact{
			{SubscriberID: "S2", Amount: decimal.NewFromInt(30)},
			{SubscriberID: "S2", Amount: decimal.NewFromInt(12)},
			{SubscriberID: "S3", Amount: decimal.RequireFromString("7.5")},
		},
		Dims: []Dimension{{
			Name:   "subscriber",
			Filter: models.DefaultDimensionFilter(),
			Records: []models.DimensionRecord{
				dimRecord("S2", "Active", daysAgo(100), "Tbilisi"),
				dimRecord("S3", "Partial", daysAgo(100), "Batumi"),
				dimRecord("D60", "Active", daysAgo(100), "Gori"),
				dimRecord("D90", "Active", daysAgo(100), "Kutaisi"),
			},
		}},
	}
}

func rowsByID(rows []models.SegmentationRow) map[string]models.SegmentationRow {
	out := make(map[string]models.SegmentationRow, len(rows))
	for _, r := range rows {
		out[r.SubscriberID] = r
	}
	return out
}

func TestRun_Scenarios(t *testing.T) {
	report, err := Run(context.Background(), scenarioSources(), models.DefaultParams(ref), Options{})
	require.NoError(t, err)

	rows := rowsByID(report.Rows)
	assert.Len(t, report.Rows, len(rows), "one row per subscriber")

	assert.NotContains(t, rows, "S1")
	assert.NotContains(t, rows, "D59")
	assert.NotContains(t, rows, "D91")
	assert.Contains(t, rows, "D60")
	assert.Contains(t, rows, "D90")

	s2 := rows["S2"]
	assert.Equal(t, 75, s2.RefillElapsedDays)
	require.NotNil(t, s2.TopUpAmount)
	assert.Equal(t, "5", s2.TopUpAmount.String())
	assert.Equal(t, "PROMO1", *s2.TopUpOfferID)
	assert.Equal(t, "42", s2.TotalCharge.String())
	assert.Equal(t, "Tbilisi", *s2.Region)

	s3 := rows["S3"]
	assert.Nil(t, s3.TopUpAmount)
	assert.Nil(t, s3.TopUpOfferID)
	assert.Equal(t, "7.5", s3.TotalCharge.String())

	s4 := rows["S4"]
	assert.Equal(t, 88, s4.RefillElapsedDays)
	assert.Equal(t, models.ProfileAttributes{}, s4.ProfileAttributes)
	assert.Nil(t, s4.TotalCharge)

	for _, r := range report.Rows {
		assert.GreaterOrEqual(t, r.RefillElapsedDays, 60)
		assert.LessOrEqual(t, r.RefillElapsedDays, 90)
	}
}

func TestRun_IgnoresEventsAfterReferenceInstant(t *testing.T) {
	src := scenarioSources()
	later := refill("S7", 0, 10)
	later.EventDate = ref.Add(150 * time.Minute)
	src.Ledger = sequence(append(src.Ledger, refill("S7", 70, 10), later)...)

	report, err := Run(context.Background(), src, models.DefaultParams(ref), Options{})
	require.NoError(t, err)

	s7, ok := rowsByID(report.Rows)["S7"]
	require.True(t, ok)
	assert.Equal(t, 70, s7.RefillElapsedDays)
}

func TestRun_ExclusionWins(t *testing.T) {
	src := scenarioSources()
	src.Exclusion = []models.ExclusionEntry{{SubscriberID: "S2"}, {SubscriberID: "D90"}}

	report, err := Run(context.Background(), src, models.DefaultParams(ref), Options{})
	require.NoError(t, err)

	rows := rowsByID(report.Rows)
	assert.NotContains(t, rows, "S2")
	assert.NotContains(t, rows, "D90")
	assert.Contains(t, rows, "S3")
	assert.Equal(t, 2, report.StageCounts[models.StageExcluded])
}

func TestRun_Idempotent(t *testing.T) {
	p := models.DefaultParams(ref)
	p.ShardCount = 3

	first, err := Run(context.Background(), scenarioSources(), p, Options{})
	require.NoError(t, err)
	second, err := Run(context.Background(), scenarioSources(), p, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Rows, second.Rows)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_RowsSortedBySubscriber(t *testing.T) {
	report, err := Run(context.Background(), scenarioSources(), models.DefaultParams(ref), Options{})
	require.NoError(t, err)

	ids := make([]string, 0, len(report.Rows))
	for _, r := range report.Rows {
		ids = append(ids, r.SubscriberID)
	}
	assert.Equal(t, []string{"D60", "D90", "S2", "S3", "S4"}, ids)
}

func TestRun_RefillVariantHasNoTopUps(t *testing.T) {
	p := models.DefaultParams(ref)
	p.Variant = models.VariantRefill

	report, err := Run(context.Background(), scenarioSources(), p, Options{})
	require.NoError(t, err)

	s2 := rowsByID(report.Rows)["S2"]
	assert.Nil(t, s2.TopUpAmount)
	assert.Zero(t, report.StageCounts[models.StageTopUp])
}

func TestRun_MalformedRowsCounted(t *testing.T) {
	src := scenarioSources()
	bad := refill("", 70, 10)
	negative := refill("S9", 70, -10)
	src.Ledger = append(src.Ledger, bad, negative)
	src.Charges = append(src.Charges, models.ChargeFact{Amount: decimal.NewFromInt(99)})

	m := metrics.New()
	report, err := Run(context.Background(), src, models.DefaultParams(ref), Options{Metrics: m})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Drops.Total())
	assert.NotContains(t, rowsByID(report.Rows), "S9")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedRows.WithLabelValues("ledger", models.ReasonNegativeAmount)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.StageRows.WithLabelValues(models.StageOutput)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("success")))
}

type failingSources struct {
	MemorySources
	err error
}

func (f *failingSources) Dimensions(_ context.Context) ([]Dimension, error) {
	return nil, f.err
}

func TestRun_SourceUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	src := &failingSources{MemorySources: *scenarioSources(), err: cause}
	m := metrics.New()

	report, err := Run(context.Background(), src, models.DefaultParams(ref), Options{Metrics: m})

	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failure")))
}

func TestRun_InvalidParams(t *testing.T) {
	cases := map[string]func(p *models.Params){
		"missing reference": func(p *models.Params) { p.ReferenceInstant = time.Time{} },
		"inverted window":   func(p *models.Params) { p.LowerDays, p.UpperDays = 90, 60 },
		"unknown variant":   func(p *models.Params) { p.Variant = "both" },
		"no categories":     func(p *models.Params) { p.Categories = nil },
		"no shards":         func(p *models.Params) { p.ShardCount = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := models.DefaultParams(ref)
			mutate(&p)
			_, err := Run(context.Background(), scenarioSources(), p, Options{})
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestRun_Progress(t *testing.T) {
	var buf bytes.Buffer
	_, err := Run(context.Background(), scenarioSources(), models.DefaultParams(ref), Options{Progress: &buf})
	require.NoError(t, err)
	assert.NotEmpty(t, buf.String())
}
