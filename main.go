package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"lapse-cohort/pkg/calculator"
	"lapse-cohort/pkg/config"
	"lapse-cohort/pkg/database"
	"lapse-cohort/pkg/export"
	"lapse-cohort/pkg/logging"
	"lapse-cohort/pkg/metrics"
	"lapse-cohort/pkg/models"
	"lapse-cohort/pkg/sampling"
)

type cliOptions struct {
	asOf            time.Time
	lower           int
	upper           int
	lookbackMonths  int
	variant         string
	shards          int
	output          string
	groups          int
	stratify        []string
	buckets         int
	seed            uint64
	baseline        float64
	mde             float64
	twoSided        bool
	metricsTextfile string
	progress        bool
}

func main() {
	envFile := flag.String("env", ".env", "Optional .env file")
	asOf := flag.String("as-of", "", "Reference instant (YYYY-MM-DD or RFC3339, UTC)")
	lower := flag.Int("lower", models.DefaultLowerDays, "Lower lapse bound in days (inclusive)")
	upper := flag.Int("upper", models.DefaultUpperDays, "Upper lapse bound in days (inclusive)")
	lookback := flag.Int("lookback-months", models.DefaultLookbackMonths, "Ledger lookback in months")
	variant := flag.String("variant", string(models.VariantRefillTopUp), "Segmentation variant (refill, refill_topup)")
	shards := flag.Int("shards", 0, "Recency aggregation shards; default LAPSE_SHARDS")
	output := flag.String("output", "", "CSV output path; default stdout")
	groups := flag.Int("groups", 0, "Split the cohort into N stratified groups")
	stratify := flag.String("stratify", "", "Comma separated stratify columns ("+strings.Join(sampling.StrataColumns(), ", ")+")")
	buckets := flag.Int("buckets", 10, "Quantile buckets for numeric stratify columns")
	seed := flag.Uint64("seed", 1, "Seed of the group assignment")
	baseline := flag.Float64("baseline", 0, "Baseline conversion rate for the power check")
	mde := flag.Float64("mde", 0, "Minimum detectable effect for the power check")
	twoSided := flag.Bool("two-sided", false, "Two sided power check")
	metricsTextfile := flag.String("metrics-textfile", "", "Write run metrics in textfile format")
	progress := flag.Bool("progress", false, "Show progress on stderr")
	flag.Parse()

	if *asOf == "" {
		log.Fatalf("Usage: lapse-cohort --as-of YYYY-MM-DD [--variant refill_topup] [--output cohort.csv]")
	}
	ref, err := parseDate(*asOf)
	if err != nil {
		log.Fatalf("invalid --as-of: %v", err)
	}

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	opts := cliOptions{
		asOf:            ref,
		lower:           *lower,
		upper:           *upper,
		lookbackMonths:  *lookback,
		variant:         *variant,
		shards:          *shards,
		output:          *output,
		groups:          *groups,
		stratify:        splitList(*stratify),
		buckets:         *buckets,
		seed:            *seed,
		baseline:        *baseline,
		mde:             *mde,
		twoSided:        *twoSided,
		metricsTextfile: *metricsTextfile,
		progress:        *progress,
	}
	if opts.shards == 0 {
		opts.shards = cfg.ShardCount
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.WithError(err).Error("Lapse cohort run failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts cliOptions, logger ectologger.Logger) error {
	db, flavor, err := database.Open(cfg.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cache, closeCache, err := newCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	src, err := database.NewSQLSource(db, flavor, tables(cfg), cache, logger)
	if err != nil {
		return err
	}

	p := models.DefaultParams(opts.asOf)
	p.LowerDays = opts.lower
	p.UpperDays = opts.upper
	p.LookbackMonths = opts.lookbackMonths
	p.Variant = models.Variant(opts.variant)
	p.ShardCount = opts.shards

	runOpts := calculator.Options{Logger: logger, Metrics: metrics.New()}
	if opts.progress {
		runOpts.Progress = os.Stderr
	}

	report, err := calculator.Run(ctx, src, p, runOpts)
	if opts.metricsTextfile != "" {
		if werr := runOpts.Metrics.WriteTextfile(opts.metricsTextfile); werr != nil {
			logger.WithError(werr).Warn("Failed to write metrics textfile")
		}
	}
	if err != nil {
		return err
	}
	if n, ok := cacheEntries(cache); ok {
		logger.WithField("entries", n).Debug("Query cache size after run")
	}

	var groups []int
	if opts.groups > 0 {
		groups, err = sampling.StratifiedSplit(report.Rows, sampling.SplitConfig{
			Strata:  opts.stratify,
			Groups:  opts.groups,
			Buckets: opts.buckets,
			Seed:    opts.seed,
		})
		if err != nil {
			return fmt.Errorf("split cohort: %w", err)
		}
	}
	if opts.baseline > 0 && opts.mde > 0 {
		checkPower(logger, len(report.Rows), opts)
	}

	return writeOutput(opts.output, report.Rows, groups)
}

func newCache(ctx context.Context, cfg *config.Config) (database.QueryCache, func(), error) {
	switch cfg.CacheMode {
	case config.CacheMemory:
		return database.NewMemoryCache(), func() {}, nil
	case config.CacheRedis:
		client, err := database.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return database.NewRedisCache(client, "lapse-cohort:", cfg.CacheTTL), func() { _ = client.Close() }, nil
	}
	return nil, func() {}, nil
}

// cacheEntries reports the size of an in-process cache. Shared caches are not counted.
func cacheEntries(cache database.QueryCache) (int, bool) {
	mem, ok := cache.(*database.MemoryCache)
	if !ok {
		return 0, false
	}
	return mem.Len(), true
}

func tables(cfg *config.Config) database.Tables {
	t := database.Tables{
		Ledger:     cfg.LedgerTable,
		Charges:    cfg.ChargesTable,
		Exclusions: cfg.ExclusionsTable,
	}
	for _, dim := range cfg.DimensionTables {
		t.Dimensions = append(t.Dimensions, database.DimensionTable{
			Name:   dim.Name,
			Table:  dim.Table,
			Filter: dim.Filter,
		})
	}
	return t
}

// checkPower logs whether the cohort split into groups can detect the configured effect.
func checkPower(logger ectologger.Logger, rows int, opts cliOptions) {
	groups := opts.groups
	if groups < 2 {
		groups = 2
	}
	perGroup := rows / groups
	test := sampling.DefaultTestConfig()
	test.TwoSided = opts.twoSided

	fields := map[string]any{
		"baseline":  opts.baseline,
		"mde":       opts.mde,
		"groups":    groups,
		"per_group": perGroup,
	}

	needed, err := sampling.MinSampleSize(opts.baseline, opts.mde, 0, 0, test)
	switch {
	case errors.Is(err, sampling.ErrInfeasible):
		logger.WithFields(fields).Warn("Effect is not detectable with any feasible group size")
		return
	case err != nil:
		logger.WithFields(fields).WithError(err).Warn("Power check failed")
		return
	}
	fields["min_per_group"] = needed

	if perGroup > 0 {
		if effect, err := sampling.MinDetectableEffect(opts.baseline, perGroup, 0, 0, 0, test); err == nil {
			fields["detectable_effect"] = effect
		}
	}
	if perGroup < needed {
		logger.WithFields(fields).Warn("Cohort is too small for the requested effect")
		return
	}
	logger.WithFields(fields).Info("Cohort supports the requested effect")
}

func writeOutput(path string, rows []models.SegmentationRow, groups []int) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := export.WriteCSV(w, rows, groups); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	layouts := []string{
		"2006-01-02",
		"2006/01/02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %s", value)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
