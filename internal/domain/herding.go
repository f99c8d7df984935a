package domain

// RiskLevel grades a herding analysis.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// HerdingAction is the recommended handling for a candidate vote.
type HerdingAction string

const (
	ActionNone   HerdingAction = "none"
	ActionFlag   HerdingAction = "flag"
	ActionDelay  HerdingAction = "delay"
	ActionReject HerdingAction = "reject"
)

// PatternTag labels a contributing herding pattern.
type PatternTag string

const (
	PatternRapidConsensus      PatternTag = "rapid_consensus"
	PatternLowConvictionFollow PatternTag = "low_conviction_following"
	PatternSelfDeviation       PatternTag = "self_deviation"
	PatternFavoriteFollowing   PatternTag = "favorite_following"
)

// HerdingAnalysis is the derived, never-persisted result of scoring a
// candidate vote against the market's recent vote stream. Purely advisory
// except for the reject action, which the vote ledger enforces.
type HerdingAnalysis struct {
	HerdingScore           uint8
	RiskLevel              RiskLevel
	Action                 HerdingAction
	Patterns               []PatternTag
	PrivacyScore           uint8
	ManipulationLikelihood uint8
}

// RecentVote is the per-vote slice of history the herding detector consumes.
// It carries the plaintext choice supplied at the submission boundary, never
// anything decrypted.
type RecentVote struct {
	Choice     VoteChoice
	Confidence uint8
}
