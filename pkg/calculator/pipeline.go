package calculator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"lapse-cohort/pkg/logging"
	"lapse-cohort/pkg/metrics"
	"lapse-cohort/pkg/models"
)

var (
	// ErrSourceUnavailable is returned when any snapshot cannot be read. No partial
	// result is produced; the whole run can be retried against the same parameters.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidParams is returned when the run parameters fail validation.
	ErrInvalidParams = errors.New("invalid parameters")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// progress steps: load, filter, recency, window, enrich, exclude, assemble
const runSteps = 7

// Options carries the collaborators of a run. The zero value logs nothing, shows no
// progress and records no metrics.
type Options struct {
	Logger   ectologger.Logger
	Progress io.Writer
	Metrics  *metrics.Run
}

type snapshot struct {
	ledger     []models.TransactionEvent
	charges    []models.ChargeFact
	dims       []Dimension
	exclusions []models.ExclusionEntry
}

// Run computes the lapse cohort from the given snapshots. It is a pure function of the
// snapshots and params: two runs over identical inputs return identical rows.
func Run(ctx context.Context, src Sources, p models.Params, opts Options) (*models.RunReport, error) {
	start := time.Now()
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	report, err := run(ctx, src, p, opts)
	status := "success"
	if err != nil {
		status = "failure"
	}
	opts.Metrics.ObserveRun(status, time.Since(start))
	return report, err
}

func run(ctx context.Context, src Sources, p models.Params, opts Options) (*models.RunReport, error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	runID := uuid.New()
	log := opts.Logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":            runID.String(),
		"reference_instant": p.ReferenceInstant.UTC().Format(time.RFC3339),
		"variant":           string(p.Variant),
	})

	bar := newProgress(opts.Progress)
	step := func(stage string) {
		bar.Describe(stage)
		_ = bar.Add(1)
	}
	counts := map[string]int{}

	from, to := LedgerWindow(p)
	log.WithFields(map[string]any{
		"from":  from.Format("2006-01-02"),
		"to":    to.Format(time.RFC3339),
		"lower": p.LowerDays,
		"upper": p.UpperDays,
	}).Debug("Loading source snapshots")

	snap, err := loadSnapshot(ctx, src, LedgerQuery{
		From:         from,
		To:           to,
		Categories:   p.Categories,
		BusinessLine: p.BusinessLine,
		AccountType:  p.AccountType,
	})
	if err != nil {
		log.WithError(err).Error("Failed to load source snapshots")
		return nil, err
	}
	opts.Metrics.ObserveSource(sourceLedger, len(snap.ledger))
	opts.Metrics.ObserveSource(sourceCharges, len(snap.charges))
	opts.Metrics.ObserveSource(sourceExclusions, len(snap.exclusions))
	for _, dim := range snap.dims {
		opts.Metrics.ObserveSource("dimension:"+dim.Name, len(dim.Records))
	}
	step("load")

	drops := models.DropCounts{}
	streams := FilterLedger(snap.ledger, p, drops)
	counts[models.StageLedgerRefill] = len(streams.Refills)
	counts[models.StageLedgerTopUp] = len(streams.TopUps)
	step("filter")

	var refills, topups map[string]models.RecencyMetric
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		refills, err = AggregateRecency(gctx, streams.Refills, p.ReferenceInstant, p.ShardCount)
		return err
	})
	if p.Variant == models.VariantRefillTopUp {
		g.Go(func() error {
			var err error
			topups, err = AggregateRecency(gctx, streams.TopUps, p.ReferenceInstant, p.ShardCount)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate recency: %w", err)
	}
	counts[models.StageRefillRecency] = len(refills)
	step("recency")

	population := ClassifyWindow(refills, p.LowerDays, p.UpperDays)
	topupDetails := TopUpDetails(population, topups)
	counts[models.StageWindow] = len(population)
	counts[models.StageTopUp] = len(topupDetails)
	step("window")

	var (
		charges     map[string]models.LifetimeChargeTotal
		profiles    map[string]models.ProfileAttributes
		chargeDrops = models.DropCounts{}
		dimDrops    = models.DropCounts{}
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		charges = AggregateLifetimeCharges(snap.charges, chargeDrops)
	}()
	go func() {
		defer wg.Done()
		profiles = EnrichProfiles(population, snap.dims, dimDrops)
	}()
	wg.Wait()
	drops.Merge(chargeDrops)
	drops.Merge(dimDrops)
	counts[models.StageCharges] = len(charges)
	counts[models.StageEnriched] = countEnriched(profiles)
	step("enrich")

	kept := ApplyExclusions(population, snap.exclusions, drops)
	counts[models.StageExcluded] = len(population) - len(kept)
	step("exclude")

	rows := AssembleRows(kept, refills, topupDetails, charges, profiles)
	counts[models.StageOutput] = len(rows)
	step("assemble")
	_ = bar.Finish()

	for _, k := range drops.Keys() {
		log.WithFields(map[string]any{
			"source": k.Source,
			"reason": k.Reason,
			"count":  drops[k],
		}).Warn("Dropped malformed records")
	}
	for stage, n := range counts {
		opts.Metrics.ObserveStage(stage, n)
	}
	opts.Metrics.ObserveDrops(drops)

	log.WithFields(map[string]any{
		"refill_events": counts[models.StageLedgerRefill],
		"topup_events":  counts[models.StageLedgerTopUp],
		"in_window":     counts[models.StageWindow],
		"excluded":      counts[models.StageExcluded],
		"rows":          counts[models.StageOutput],
		"dropped_total": drops.Total(),
	}).Info("Segmentation run completed")

	return &models.RunReport{
		RunID:            runID,
		ReferenceInstant: p.ReferenceInstant,
		Variant:          p.Variant,
		Rows:             rows,
		StageCounts:      counts,
		Drops:            drops,
	}, nil
}

// loadSnapshot materializes every source concurrently. Any failure is fatal to the run.
func loadSnapshot(ctx context.Context, src Sources, q LedgerQuery) (*snapshot, error) {
	snap := &snapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := src.LedgerEvents(gctx, q)
		if err != nil {
			return fmt.Errorf("%w: ledger: %w", ErrSourceUnavailable, err)
		}
		snap.ledger = rows
		return nil
	})
	g.Go(func() error {
		rows, err := src.ChargeFacts(gctx)
		if err != nil {
			return fmt.Errorf("%w: charges: %w", ErrSourceUnavailable, err)
		}
		snap.charges = rows
		return nil
	})
	g.Go(func() error {
		dims, err := src.Dimensions(gctx)
		if err != nil {
			return fmt.Errorf("%w: dimensions: %w", ErrSourceUnavailable, err)
		}
		snap.dims = dims
		return nil
	})
	g.Go(func() error {
		rows, err := src.Exclusions(gctx)
		if err != nil {
			return fmt.Errorf("%w: exclusions: %w", ErrSourceUnavailable, err)
		}
		snap.exclusions = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func countEnriched(profiles map[string]models.ProfileAttributes) int {
	n := 0
	for _, attrs := range profiles {
		if attrs != (models.ProfileAttributes{}) {
			n++
		}
	}
	return n
}

func newProgress(w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		return progressbar.DefaultSilent(runSteps)
	}
	return progressbar.NewOptions(runSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("load"),
		progressbar.OptionShowCount(),
	)
}
