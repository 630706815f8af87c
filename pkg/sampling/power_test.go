package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPValue(t *testing.T) {
	assert.InDelta(t, 0.05, PValue(1.6448536269514722, 1, false), 1e-9)
	assert.InDelta(t, 0.05, PValue(-1.959963984540054, 1, true), 1e-9)
	assert.InDelta(t, 0.5, PValue(0, 1, false), 1e-12)
}

func TestInverseSurvival(t *testing.T) {
	assert.InDelta(t, 1.6448536269514715, inverseSurvival(0.05), 1e-9)
	assert.InDelta(t, 1.9599639845400536, inverseSurvival(0.025), 1e-9)
	assert.InDelta(t, 0.05, survival(inverseSurvival(0.05)), 1e-12)
}

func TestPValueAndPower(t *testing.T) {
	res, err := PValueAndPower(1000, 0, 0.1, 0.05, DefaultTestConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0.000349, res.PValue, 1e-5)
	assert.InDelta(t, 0.99884, res.Power, 1e-4)
	assert.True(t, res.Significant)

	cfg := DefaultTestConfig()
	cfg.TwoSided = true
	res, err = PValueAndPower(1000, 1000, 0.1, 0.05, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.000698, res.PValue, 1e-5)
	assert.InDelta(t, 0.99729, res.Power, 1e-4)
}

func TestPValueAndPower_InvalidInputs(t *testing.T) {
	_, err := PValueAndPower(0, 0, 0.1, 0.01, DefaultTestConfig())
	assert.Error(t, err)
	_, err = PValueAndPower(100, 0, 0, 0.01, DefaultTestConfig())
	assert.Error(t, err)
	_, err = PValueAndPower(100, 0, 0.995, 0.01, DefaultTestConfig())
	assert.Error(t, err)
}

func TestMinSampleSize(t *testing.T) {
	n, err := MinSampleSize(0.02, 0.005, 0, 0, DefaultTestConfig())
	require.NoError(t, err)
	assert.Equal(t, 5300, n)

	n, err = MinSampleSize(0.1, 0.02, 0, 0, DefaultTestConfig())
	require.NoError(t, err)
	assert.Equal(t, 1500, n)

	cfg := DefaultTestConfig()
	cfg.TwoSided = true
	n, err = MinSampleSize(0.02, 0.005, 0, 0, cfg)
	require.NoError(t, err)
	assert.Equal(t, 6800, n)
}

func TestMinSampleSize_Infeasible(t *testing.T) {
	_, err := MinSampleSize(0.02, 0.005, 100, 1000, DefaultTestConfig())
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestMinDetectableEffect(t *testing.T) {
	effect, err := MinDetectableEffect(0.02, 10000, 0, 0, 0, DefaultTestConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0.0036, effect, 1e-9)

	cfg := DefaultTestConfig()
	cfg.TwoSided = true
	effect, err = MinDetectableEffect(0.1, 5000, 0, 0, 0, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.0121, effect, 1e-9)
}

func TestMinDetectableEffect_Infeasible(t *testing.T) {
	_, err := MinDetectableEffect(0.5, 10, 0, 0.01, 0.05, DefaultTestConfig())
	assert.ErrorIs(t, err, ErrInfeasible)
}
