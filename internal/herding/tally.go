package herding

import "github.com/veilmarkets/oraclecore/internal/domain"

// TallyScanConfig holds the fixed point values for the post-hoc tally scan
// and the threshold above which a resolution is surfaced to the dispute
// manager. The scan is metadata only and never blocks a resolution.
type TallyScanConfig struct {
	ConcentrationWeight  uint8
	StakeMismatchWeight  uint8
	LowConfidenceWeight  uint8
	DivergenceWeight     uint8
	DisputeFlagThreshold uint8
}

// DefaultTallyScanConfig returns the protocol default scan weights.
func DefaultTallyScanConfig() TallyScanConfig {
	return TallyScanConfig{
		ConcentrationWeight:  30,
		StakeMismatchWeight:  25,
		LowConfidenceWeight:  20,
		DivergenceWeight:     25,
		DisputeFlagThreshold: 60,
	}
}

// ScanTallies runs the post-hoc manipulation scan over decrypted aggregation
// tallies. Each pattern contributes its fixed point value; the sum is capped
// at 100.
func ScanTallies(cfg TallyScanConfig, agg domain.DecryptedAggregate) uint8 {
	total := agg.YesCount + agg.NoCount
	if total == 0 {
		return 0
	}

	winCount := agg.YesCount
	winStake, loseStake := agg.YesStake, agg.NoStake
	if agg.NoCount > agg.YesCount {
		winCount = agg.NoCount
		winStake, loseStake = agg.NoStake, agg.YesStake
	}

	var score int

	// Vote concentration: near-unanimous outcomes with a real crowd are the
	// classic coordinated-campaign signature.
	if total >= 10 && winCount*100/total > 90 {
		score += int(cfg.ConcentrationWeight)
	}

	// Stake/vote mismatch: the losing side carries the stake majority, so a
	// few large positions voted against a numerically larger crowd.
	if totalStake := winStake + loseStake; totalStake > 0 && loseStake*100/totalStake > 70 {
		score += int(cfg.StakeMismatchWeight)
	}

	// Low-confidence mass participation: a large crowd whose winning-side
	// mean probability barely clears a coin flip.
	if total >= 10 && winCount > 0 {
		meanProb := agg.WinningProbabilitySum / uint64(winCount)
		if meanProb < 55 {
			score += int(cfg.LowConfidenceWeight)
		}
	}

	// Stake-probability divergence: the stake-implied probability and the
	// self-reported mean probability disagree by more than 30 points.
	if totalStake := winStake + loseStake; totalStake > 0 && winCount > 0 {
		implied := int(winStake * 100 / totalStake)
		reported := int(agg.WinningProbabilitySum / uint64(winCount))
		diff := implied - reported
		if diff < 0 {
			diff = -diff
		}
		if diff > 30 {
			score += int(cfg.DivergenceWeight)
		}
	}

	if score > 100 {
		score = 100
	}
	return uint8(score)
}
