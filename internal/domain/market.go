package domain

import "time"

// MarketID identifies a prediction market. Markets themselves are owned by
// the orchestration layer; the core only reads their metadata.
type MarketID uint64

// Category classifies a market for oracle specialization matching.
type Category string

const (
	CategoryGeneral       Category = "general"
	CategorySports        Category = "sports"
	CategoryPolitics      Category = "politics"
	CategoryEconomics     Category = "economics"
	CategoryTechnology    Category = "technology"
	CategoryEntertainment Category = "entertainment"
	CategoryWeather       Category = "weather"
	CategoryCustom        Category = "custom"
)

// Market is the slice of market metadata the resolution core reads.
type Market struct {
	ID               MarketID
	Question         string
	Category         Category
	VotingEndsAt     time.Time
	Resolved         bool
	ParticipantCount int
	TotalStake       uint64
	YesStake         uint64
	NoStake          uint64
	MinDisputeBond   uint64
	// DisputeWindow overrides the default 72h window when non-zero.
	DisputeWindow time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VotingOpen reports whether the market still accepts votes at now.
func (m Market) VotingOpen(now time.Time) bool {
	return now.Before(m.VotingEndsAt)
}

// ImpliedOdds returns the stake-implied yes/no probabilities (0-100) with a
// liquidity-tiered spread applied, and whether the market is liquid enough
// for the odds to be meaningful. With no stake it returns an even 50/50.
func (m Market) ImpliedOdds() (yes, no uint8, highConfidence bool) {
	total := m.YesStake + m.NoStake
	if total == 0 {
		return 50, 50, false
	}

	yesProb := m.YesStake * 100 / total
	noProb := m.NoStake * 100 / total

	// Thin books get a wider spread haircut.
	var liquidityFactor uint64
	switch {
	case total > 10_000:
		liquidityFactor = 95
	case total > 1_000:
		liquidityFactor = 90
	default:
		liquidityFactor = 85
	}

	return uint8(yesProb * liquidityFactor / 100),
		uint8(noProb * liquidityFactor / 100),
		total > 1_000
}
