// Package herding scores vote streams for herding and manipulation
// patterns. The detector operates on plaintext choices at the submission
// boundary, before encryption; it never sees ciphertext.
package herding

import "github.com/veilmarkets/oraclecore/internal/domain"

// Config holds the tunable scoring weights and thresholds. The defaults are
// the protocol constants; deployments may override them, but the reject gate
// always fires at the critical level.
type Config struct {
	RapidConsensusWeight    uint8
	LowConvictionWeight     uint8
	SelfDeviationWeight     uint8
	FavoriteFollowingWeight uint8
	MediumThreshold         uint8
	HighThreshold           uint8
	CriticalThreshold       uint8
	// WindowSize bounds the market vote history consumed per analysis.
	WindowSize int
}

// DefaultConfig returns the protocol default weights and thresholds.
func DefaultConfig() Config {
	return Config{
		RapidConsensusWeight:    25,
		LowConvictionWeight:     20,
		SelfDeviationWeight:     15,
		FavoriteFollowingWeight: 10,
		MediumThreshold:         20,
		HighThreshold:           40,
		CriticalThreshold:       60,
		WindowSize:              50,
	}
}

// Candidate is the vote under analysis.
type Candidate struct {
	Choice     domain.VoteChoice
	Confidence uint8
	// LeadingChoice is the market's currently leading side by stake, or
	// VoteSkip when the market has no leader yet.
	LeadingChoice domain.VoteChoice
}

// Detector computes herding analyses from rolling vote windows.
type Detector struct {
	cfg Config
}

// NewDetector creates a Detector with the given config. Zero-valued weights
// fall back to the defaults so a partially-populated config stays sane.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.RapidConsensusWeight == 0 {
		cfg.RapidConsensusWeight = def.RapidConsensusWeight
	}
	if cfg.LowConvictionWeight == 0 {
		cfg.LowConvictionWeight = def.LowConvictionWeight
	}
	if cfg.SelfDeviationWeight == 0 {
		cfg.SelfDeviationWeight = def.SelfDeviationWeight
	}
	if cfg.FavoriteFollowingWeight == 0 {
		cfg.FavoriteFollowingWeight = def.FavoriteFollowingWeight
	}
	if cfg.MediumThreshold == 0 {
		cfg.MediumThreshold = def.MediumThreshold
	}
	if cfg.HighThreshold == 0 {
		cfg.HighThreshold = def.HighThreshold
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = def.CriticalThreshold
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = def.WindowSize
	}
	return &Detector{cfg: cfg}
}

// Analyze scores a candidate vote against the market's recent votes (newest
// last) and the voter's own confidence history (newest first). The additive
// score is capped at 100.
func (d *Detector) Analyze(c Candidate, recent []domain.RecentVote, ownHistory []uint8) domain.HerdingAnalysis {
	if n := len(recent); n > d.cfg.WindowSize {
		recent = recent[n-d.cfg.WindowSize:]
	}
	if len(ownHistory) > d.cfg.WindowSize {
		ownHistory = ownHistory[:d.cfg.WindowSize]
	}

	var score int
	var patterns []domain.PatternTag

	// Rapid consensus: of the last 10 votes, more than 7 share the
	// candidate's choice.
	if matchesInTail(recent, c.Choice, 10) > 7 {
		score += int(d.cfg.RapidConsensusWeight)
		patterns = append(patterns, domain.PatternRapidConsensus)
	}

	// Low-conviction following: low confidence while matching the majority
	// of the last 5+ votes.
	if c.Confidence < 60 && len(recent) >= 5 {
		if maj, ok := majorityChoice(tail(recent, 5)); ok && maj == c.Choice {
			score += int(d.cfg.LowConvictionWeight)
			patterns = append(patterns, domain.PatternLowConvictionFollow)
		}
	}

	// Self-deviation: confidence far from the voter's own running mean.
	if len(ownHistory) >= 5 {
		mean := meanU8(ownHistory)
		diff := float64(c.Confidence) - mean
		if diff < 0 {
			diff = -diff
		}
		if diff > 30 {
			score += int(d.cfg.SelfDeviationWeight)
			patterns = append(patterns, domain.PatternSelfDeviation)
		}
	}

	// Favorite-following: confidently backing the side that is already
	// winning.
	if c.LeadingChoice != domain.VoteSkip && c.Choice == c.LeadingChoice && c.Confidence > 80 {
		score += int(d.cfg.FavoriteFollowingWeight)
		patterns = append(patterns, domain.PatternFavoriteFollowing)
	}

	if score > 100 {
		score = 100
	}
	s := uint8(score)

	level, action := d.grade(s)

	privacy := 0
	if p := 95 - score/2; p > 0 {
		privacy = p
	}
	likelihood := score * 8 / 10
	if likelihood > 100 {
		likelihood = 100
	}

	return domain.HerdingAnalysis{
		HerdingScore:           s,
		RiskLevel:              level,
		Action:                 action,
		Patterns:               patterns,
		PrivacyScore:           uint8(privacy),
		ManipulationLikelihood: uint8(likelihood),
	}
}

// grade maps a score to its risk level and recommended action.
func (d *Detector) grade(score uint8) (domain.RiskLevel, domain.HerdingAction) {
	switch {
	case score < d.cfg.MediumThreshold:
		return domain.RiskLow, domain.ActionNone
	case score < d.cfg.HighThreshold:
		return domain.RiskMedium, domain.ActionFlag
	case score < d.cfg.CriticalThreshold:
		return domain.RiskHigh, domain.ActionDelay
	default:
		return domain.RiskCritical, domain.ActionReject
	}
}

// tail returns the last n entries of votes (all of them when shorter).
func tail(votes []domain.RecentVote, n int) []domain.RecentVote {
	if len(votes) <= n {
		return votes
	}
	return votes[len(votes)-n:]
}

// matchesInTail counts how many of the last n votes share the choice.
func matchesInTail(votes []domain.RecentVote, choice domain.VoteChoice, n int) int {
	count := 0
	for _, v := range tail(votes, n) {
		if v.Choice == choice {
			count++
		}
	}
	return count
}

// majorityChoice returns the strict-majority choice of the votes, if any.
func majorityChoice(votes []domain.RecentVote) (domain.VoteChoice, bool) {
	if len(votes) == 0 {
		return domain.VoteSkip, false
	}
	counts := map[domain.VoteChoice]int{}
	for _, v := range votes {
		counts[v.Choice]++
	}
	for choice, n := range counts {
		if n*2 > len(votes) {
			return choice, true
		}
	}
	return domain.VoteSkip, false
}

func meanU8(vals []uint8) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum int
	for _, v := range vals {
		sum += int(v)
	}
	return float64(sum) / float64(len(vals))
}
