package herding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

func TestScanTalliesCleanAggregate(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// 7/5 split, stake tracks votes, healthy mean probability.
	agg := domain.DecryptedAggregate{
		YesCount:              7,
		NoCount:               5,
		YesStake:              7_000,
		NoStake:               5_000,
		WinningProbabilitySum: 7 * 75,
	}
	assert.Equal(t, uint8(0), ScanTallies(cfg, agg))
}

func TestScanTalliesEmpty(t *testing.T) {
	assert.Equal(t, uint8(0), ScanTallies(DefaultTallyScanConfig(), domain.DecryptedAggregate{}))
}

func TestScanTalliesConcentration(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// 19 of 20 on one side with a real crowd.
	agg := domain.DecryptedAggregate{
		YesCount:              19,
		NoCount:               1,
		YesStake:              19_000,
		NoStake:               1_000,
		WinningProbabilitySum: 19 * 75,
	}
	assert.Equal(t, cfg.ConcentrationWeight, ScanTallies(cfg, agg))
}

func TestScanTalliesSmallCrowdNoConcentration(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// Unanimous but tiny: under 10 total votes the concentration check
	// stays quiet.
	agg := domain.DecryptedAggregate{
		YesCount:              5,
		NoCount:               0,
		YesStake:              5_000,
		WinningProbabilitySum: 5 * 80,
	}
	assert.Equal(t, uint8(0), ScanTallies(cfg, agg))
}

func TestScanTalliesStakeMismatch(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// Yes wins on count, but the losing no side holds 80% of the stake.
	// The stake skew also trips the divergence check (implied 20 vs
	// reported 75).
	agg := domain.DecryptedAggregate{
		YesCount:              5,
		NoCount:               3,
		YesStake:              2_000,
		NoStake:               8_000,
		WinningProbabilitySum: 5 * 75,
	}
	assert.Equal(t, cfg.StakeMismatchWeight+cfg.DivergenceWeight, ScanTallies(cfg, agg))
}

func TestScanTalliesLowConfidenceMass(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// A large crowd whose winning-side mean probability is barely above a
	// coin flip.
	agg := domain.DecryptedAggregate{
		YesCount:              12,
		NoCount:               8,
		YesStake:              12_000,
		NoStake:               8_000,
		WinningProbabilitySum: 12 * 52,
	}
	assert.Equal(t, cfg.LowConfidenceWeight, ScanTallies(cfg, agg))
}

func TestScanTalliesMaxScoreCapped(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// Near-unanimous crowd, stake concentrated on the losing side, weak
	// reported confidence, and a huge implied-vs-reported gap: every
	// pattern fires.
	agg := domain.DecryptedAggregate{
		YesCount:              19,
		NoCount:               1,
		YesStake:              1_000,
		NoStake:               9_000,
		WinningProbabilitySum: 19 * 52,
	}
	got := ScanTallies(cfg, agg)
	assert.Equal(t, uint8(100), got)
}

func TestScanTalliesMirrorSymmetry(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// Swapping the yes and no sides wholesale must never change the score:
	// the scan is about the shape of the outcome, not its direction.
	cases := []domain.DecryptedAggregate{
		{YesCount: 19, NoCount: 1, YesStake: 19_000, NoStake: 1_000, WinningProbabilitySum: 19 * 75},
		{YesCount: 5, NoCount: 3, YesStake: 2_000, NoStake: 8_000, WinningProbabilitySum: 5 * 75},
		{YesCount: 12, NoCount: 8, YesStake: 12_000, NoStake: 8_000, WinningProbabilitySum: 12 * 52},
		{YesCount: 19, NoCount: 1, YesStake: 1_000, NoStake: 9_000, WinningProbabilitySum: 19 * 52},
		{YesCount: 7, NoCount: 5, YesStake: 7_000, NoStake: 5_000, WinningProbabilitySum: 7 * 75},
	}
	for _, agg := range cases {
		mirror := domain.DecryptedAggregate{
			YesCount:              agg.NoCount,
			NoCount:               agg.YesCount,
			YesStake:              agg.NoStake,
			NoStake:               agg.YesStake,
			WinningProbabilitySum: agg.WinningProbabilitySum,
		}
		assert.Equal(t, ScanTallies(cfg, agg), ScanTallies(cfg, mirror),
			"yes=%d no=%d", agg.YesCount, agg.NoCount)
	}
}

func TestScanTalliesFlagThreshold(t *testing.T) {
	cfg := DefaultTallyScanConfig()

	// Concentration alone (30) stays under the flag threshold; adding the
	// stake mismatch (25) and divergence (25) clears it.
	assert.Less(t, cfg.ConcentrationWeight, cfg.DisputeFlagThreshold)
	assert.GreaterOrEqual(t, cfg.ConcentrationWeight+cfg.StakeMismatchWeight+cfg.DivergenceWeight, cfg.DisputeFlagThreshold)
}
