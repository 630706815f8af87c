package sampling

import (
	"errors"
	"fmt"
	"math"
)

// ErrInfeasible is returned when no sample size or effect inside the search range
// reaches significance.
var ErrInfeasible = errors.New("no feasible design in search range")

// TestConfig describes the hypothesis test on proportions between a control group A
// and a treatment group B.
type TestConfig struct {
	TwoSided     bool
	Significance float64
	MinPower     float64
}

func DefaultTestConfig() TestConfig {
	return TestConfig{Significance: 0.05, MinPower: 0.8}
}

// Result of a power computation.
type Result struct {
	PValue      float64
	Power       float64
	Significant bool
}

// survival is the standard normal survival function.
func survival(x float64) float64 {
	return 0.5 * math.Erfc(x/math.Sqrt2)
}

// inverseSurvival is the standard normal inverse survival function.
func inverseSurvival(p float64) float64 {
	return math.Sqrt2 * math.Erfcinv(2*p)
}

// PValue is the probability of a false positive for an observed difference mean with
// standard deviation sd, the null hypothesis being centered on 0.
func PValue(mean, sd float64, twoSided bool) float64 {
	p := survival(math.Abs(mean / sd))
	if twoSided {
		p *= 2
	}
	return p
}

// Power is the probability of detecting the difference between pA and pB at the given
// significance. seA and seB are the standard errors of both groups.
func Power(pA, pB, seA, seB float64, twoSided bool, significance float64) float64 {
	z := inverseSurvival(significance)
	if pB > pA || !twoSided {
		return survival((pA + seA*z - pB) / seB)
	}
	return survival((pB + seB*z - pA) / seA)
}

// PValueAndPower evaluates a test with nA control and nB treatment observations, a
// baseline proportion pA and an expected effect. nB of 0 means the same size as nA.
func PValueAndPower(nA, nB int, pA, effect float64, cfg TestConfig) (Result, error) {
	if nB == 0 {
		nB = nA
	}
	pB := pA + effect
	switch {
	case nA <= 0 || nB < 0:
		return Result{}, fmt.Errorf("group sizes must be positive, got %d and %d", nA, nB)
	case pA <= 0 || pA >= 1:
		return Result{}, fmt.Errorf("baseline proportion %v outside (0, 1)", pA)
	case pB <= 0 || pB >= 1:
		return Result{}, fmt.Errorf("treatment proportion %v outside (0, 1)", pB)
	case cfg.Significance <= 0 || cfg.Significance >= 1:
		return Result{}, fmt.Errorf("significance %v outside (0, 1)", cfg.Significance)
	}

	significance := cfg.Significance
	if cfg.TwoSided {
		significance /= 2
	}

	seA := math.Sqrt(pA * (1 - pA) / float64(nA))
	seB := math.Sqrt(pB * (1 - pB) / float64(nB))
	// variance of the difference is the sum of both variances
	sd := math.Sqrt(seA*seA + seB*seB)

	res := Result{
		PValue: PValue(pB-pA, sd, cfg.TwoSided),
		Power:  Power(pA, pB, seA, seB, cfg.TwoSided, significance),
	}
	res.Significant = res.Power >= cfg.MinPower && res.PValue <= cfg.Significance
	return res, nil
}

// MinSampleSize searches, in increments of step, the smallest per-group size below
// maxObs that makes a test of the given effect significant. Zero step and maxObs
// default to 100 and 1,000,000.
func MinSampleSize(pA, effect float64, step, maxObs int, cfg TestConfig) (int, error) {
	if step <= 0 {
		step = 100
	}
	if maxObs <= 0 {
		maxObs = 1_000_000
	}
	for n := step; n < maxObs; n += step {
		res, err := PValueAndPower(n, n, pA, effect, cfg)
		if err != nil {
			return 0, err
		}
		if res.Significant {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: effect %v needs more than %d observations per group", ErrInfeasible, effect, maxObs)
}

// MinDetectableEffect searches, in increments of step up to maxEffect, the smallest
// effect a test with nA and nB observations can detect. Zero step and maxEffect default
// to 0.0001 and 1.
func MinDetectableEffect(pA float64, nA, nB int, step, maxEffect float64, cfg TestConfig) (float64, error) {
	if step <= 0 {
		step = 0.0001
	}
	if maxEffect <= 0 {
		maxEffect = 1
	}
	for i := 1; ; i++ {
		effect := step * float64(i)
		if effect > maxEffect || pA+effect >= 1 {
			break
		}
		res, err := PValueAndPower(nA, nB, pA, effect, cfg)
		if err != nil {
			return 0, err
		}
		if res.Significant {
			return effect, nil
		}
	}
	return 0, fmt.Errorf("%w: no effect up to %v is detectable with %d observations", ErrInfeasible, maxEffect, nA)
}
