package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"lapse-cohort/pkg/models"
)

// ErrStratumTooSmall is returned when a stratum cannot give every group a member.
var ErrStratumTooSmall = errors.New("stratum too small")

const absentLabel = "<absent>"

var validate = validator.New(validator.WithRequiredStructEnabled())

// SplitConfig controls StratifiedSplit. Strata lists column names; numeric columns are
// cut into Buckets quantile buckets.
type SplitConfig struct {
	Strata  []string `validate:"dive,required"`
	Groups  int      `validate:"gte=1"`
	Buckets int      `validate:"gte=1"`
	Seed    uint64
}

type column struct {
	numeric     bool
	categorical func(models.SegmentationRow) *string
	value       func(models.SegmentationRow) (float64, bool)
}

func categorical(get func(models.SegmentationRow) *string) column {
	return column{categorical: get}
}

func numeric(get func(models.SegmentationRow) (float64, bool)) column {
	return column{numeric: true, value: get}
}

// Columns available for stratification.
var columns = map[string]column{
	"region":          categorical(func(r models.SegmentationRow) *string { return r.Region }),
	"district":        categorical(func(r models.SegmentationRow) *string { return r.District }),
	"gender":          categorical(func(r models.SegmentationRow) *string { return r.Gender }),
	"status":          categorical(func(r models.SegmentationRow) *string { return r.Status }),
	"device_category": categorical(func(r models.SegmentationRow) *string { return r.DeviceCategory }),
	"device_type":     categorical(func(r models.SegmentationRow) *string { return r.DeviceType }),
	"device_brand":    categorical(func(r models.SegmentationRow) *string { return r.DeviceBrand }),
	"topup_offer_id":  categorical(func(r models.SegmentationRow) *string { return r.TopUpOfferID }),
	"refill_elapsed_days": numeric(func(r models.SegmentationRow) (float64, bool) {
		return float64(r.RefillElapsedDays), true
	}),
	"last_refill_amount": numeric(func(r models.SegmentationRow) (float64, bool) {
		return r.LastRefillAmount.InexactFloat64(), true
	}),
	"topup_elapsed_days": numeric(func(r models.SegmentationRow) (float64, bool) {
		if r.TopUpElapsedDays == nil {
			return 0, false
		}
		return float64(*r.TopUpElapsedDays), true
	}),
	"topup_amount": numeric(func(r models.SegmentationRow) (float64, bool) {
		if r.TopUpAmount == nil {
			return 0, false
		}
		return r.TopUpAmount.InexactFloat64(), true
	}),
	"total_charge": numeric(func(r models.SegmentationRow) (float64, bool) {
		if r.TotalCharge == nil {
			return 0, false
		}
		return r.TotalCharge.InexactFloat64(), true
	}),
	"birth_year": numeric(func(r models.SegmentationRow) (float64, bool) {
		if r.BirthYear == nil {
			return 0, false
		}
		return float64(*r.BirthYear), true
	}),
}

// StrataColumns lists the column names StratifiedSplit accepts.
func StrataColumns() []string {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StratifiedSplit assigns every row a group in [0, Groups) so that each stratum is
// spread evenly across groups. The result is aligned with rows and depends only on the
// rows and the config.
func StratifiedSplit(rows []models.SegmentationRow, cfg SplitConfig) ([]int, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid split config: %w", err)
	}

	labels := make([][]string, len(rows))
	for i := range labels {
		labels[i] = make([]string, len(cfg.Strata))
	}
	for j, name := range cfg.Strata {
		col, ok := columns[name]
		if !ok {
			return nil, fmt.Errorf("unknown stratify column %q", name)
		}
		for i, label := range columnLabels(rows, col, cfg.Buckets) {
			labels[i][j] = label
		}
	}

	strata := map[string][]int{}
	for i, l := range labels {
		key := strings.Join(l, "\x1f")
		strata[key] = append(strata[key], i)
	}
	keys := make([]string, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if smallest, n := smallestStratum(keys, strata); n < cfg.Groups {
		return nil, fmt.Errorf("%w: stratum [%s] has %d rows for %d groups; use fewer stratify columns or buckets",
			ErrStratumTooSmall, strings.ReplaceAll(smallest, "\x1f", ", "), n, cfg.Groups)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	groups := make([]int, len(rows))
	for _, k := range keys {
		members := strata[k]
		rng.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })

		next := 0
		for g := 0; g < cfg.Groups; g++ {
			remaining := len(members) - next
			take := int(math.Round(float64(remaining) / float64(cfg.Groups-g)))
			for _, idx := range members[next : next+take] {
				groups[idx] = g
			}
			next += take
		}
	}
	return groups, nil
}

func smallestStratum(keys []string, strata map[string][]int) (string, int) {
	smallest, n := "", math.MaxInt
	for _, k := range keys {
		if len(strata[k]) < n {
			smallest, n = k, len(strata[k])
		}
	}
	return smallest, n
}

func columnLabels(rows []models.SegmentationRow, col column, buckets int) []string {
	out := make([]string, len(rows))
	if !col.numeric {
		for i, r := range rows {
			if v := col.categorical(r); v != nil {
				out[i] = *v
			} else {
				out[i] = absentLabel
			}
		}
		return out
	}

	var present []float64
	for _, r := range rows {
		if v, ok := col.value(r); ok {
			present = append(present, v)
		}
	}
	edges := quantileEdges(present, buckets)
	for i, r := range rows {
		v, ok := col.value(r)
		if !ok {
			out[i] = absentLabel
			continue
		}
		out[i] = "q" + strconv.Itoa(bucketOf(v, edges))
	}
	return out
}

// quantileEdges returns the interior cut points of q equal-frequency buckets, with
// linear interpolation between order statistics.
func quantileEdges(values []float64, q int) []float64 {
	if len(values) == 0 || q <= 1 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	edges := make([]float64, 0, q-1)
	for k := 1; k < q; k++ {
		pos := float64(k) / float64(q) * float64(len(sorted)-1)
		lo := int(math.Floor(pos))
		e := sorted[lo]
		if lo+1 < len(sorted) {
			e += (pos - float64(lo)) * (sorted[lo+1] - sorted[lo])
		}
		if len(edges) == 0 || e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	return edges
}

// bucketOf uses right-closed buckets: v equal to an edge falls in the lower bucket.
func bucketOf(v float64, edges []float64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i] >= v })
}
