package herding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

func repeatVotes(choice domain.VoteChoice, confidence uint8, n int) []domain.RecentVote {
	out := make([]domain.RecentVote, n)
	for i := range out {
		out[i] = domain.RecentVote{Choice: choice, Confidence: confidence}
	}
	return out
}

func TestAnalyzeCleanVote(t *testing.T) {
	d := NewDetector(DefaultConfig())

	got := d.Analyze(Candidate{
		Choice:        domain.VoteYes,
		Confidence:    75,
		LeadingChoice: domain.VoteSkip,
	}, nil, nil)

	assert.Equal(t, uint8(0), got.HerdingScore)
	assert.Equal(t, domain.RiskLow, got.RiskLevel)
	assert.Equal(t, domain.ActionNone, got.Action)
	assert.Empty(t, got.Patterns)
	assert.Equal(t, uint8(95), got.PrivacyScore)
}

func TestAnalyzeRapidConsensus(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// 8 of the last 10 votes share the candidate's side.
	recent := append(repeatVotes(domain.VoteNo, 70, 2), repeatVotes(domain.VoteYes, 90, 8)...)
	got := d.Analyze(Candidate{
		Choice:        domain.VoteYes,
		Confidence:    75,
		LeadingChoice: domain.VoteSkip,
	}, recent, nil)

	assert.Equal(t, uint8(25), got.HerdingScore)
	assert.Equal(t, domain.RiskMedium, got.RiskLevel)
	assert.Equal(t, domain.ActionFlag, got.Action)
	assert.Contains(t, got.Patterns, domain.PatternRapidConsensus)
}

func TestAnalyzeRapidConsensusNeedsEight(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Exactly 7 matches in the last 10 does not trip the pattern.
	recent := append(repeatVotes(domain.VoteNo, 70, 3), repeatVotes(domain.VoteYes, 90, 7)...)
	got := d.Analyze(Candidate{Choice: domain.VoteYes, Confidence: 75, LeadingChoice: domain.VoteSkip}, recent, nil)

	assert.NotContains(t, got.Patterns, domain.PatternRapidConsensus)
}

func TestAnalyzeLowConvictionFollowing(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Mixed stream whose last 5 votes lean yes; candidate follows at low
	// confidence but the tail is not unanimous enough for rapid consensus.
	recent := append(repeatVotes(domain.VoteNo, 70, 5), repeatVotes(domain.VoteYes, 80, 5)...)
	got := d.Analyze(Candidate{
		Choice:        domain.VoteYes,
		Confidence:    55,
		LeadingChoice: domain.VoteSkip,
	}, recent, nil)

	assert.Equal(t, uint8(20), got.HerdingScore)
	assert.Contains(t, got.Patterns, domain.PatternLowConvictionFollow)
	assert.Equal(t, domain.RiskMedium, got.RiskLevel)
}

func TestAnalyzeSelfDeviation(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Voter usually reports ~90; a sudden 55 deviates by more than 30.
	own := []uint8{90, 92, 88, 91, 89}
	got := d.Analyze(Candidate{
		Choice:        domain.VoteNo,
		Confidence:    55,
		LeadingChoice: domain.VoteSkip,
	}, nil, own)

	assert.Equal(t, uint8(15), got.HerdingScore)
	assert.Contains(t, got.Patterns, domain.PatternSelfDeviation)
	// 15 is below the medium threshold.
	assert.Equal(t, domain.RiskLow, got.RiskLevel)
	assert.Equal(t, domain.ActionNone, got.Action)
}

func TestAnalyzeFavoriteFollowing(t *testing.T) {
	d := NewDetector(DefaultConfig())

	got := d.Analyze(Candidate{
		Choice:        domain.VoteYes,
		Confidence:    90,
		LeadingChoice: domain.VoteYes,
	}, nil, nil)

	assert.Equal(t, uint8(10), got.HerdingScore)
	assert.Contains(t, got.Patterns, domain.PatternFavoriteFollowing)
}

func TestAnalyzeCriticalRejects(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Rapid consensus (25) + low-conviction following (20) + self-deviation
	// (15) lands exactly on the critical threshold.
	recent := repeatVotes(domain.VoteYes, 85, 10)
	own := []uint8{95, 96, 94, 95, 97}
	got := d.Analyze(Candidate{
		Choice:        domain.VoteYes,
		Confidence:    55,
		LeadingChoice: domain.VoteSkip,
	}, recent, own)

	require.Equal(t, uint8(60), got.HerdingScore)
	assert.Equal(t, domain.RiskCritical, got.RiskLevel)
	assert.Equal(t, domain.ActionReject, got.Action)
	assert.Len(t, got.Patterns, 3)
}

func TestAnalyzeHighDelaysJustBelowCritical(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Rapid consensus + low-conviction following scores 45: high, not
	// critical.
	recent := repeatVotes(domain.VoteYes, 85, 10)
	got := d.Analyze(Candidate{
		Choice:        domain.VoteYes,
		Confidence:    55,
		LeadingChoice: domain.VoteSkip,
	}, recent, nil)

	require.Equal(t, uint8(45), got.HerdingScore)
	assert.Equal(t, domain.RiskHigh, got.RiskLevel)
	assert.Equal(t, domain.ActionDelay, got.Action)
}

func TestGradeBoundaries(t *testing.T) {
	d := NewDetector(DefaultConfig())

	cases := []struct {
		score  uint8
		level  domain.RiskLevel
		action domain.HerdingAction
	}{
		{0, domain.RiskLow, domain.ActionNone},
		{19, domain.RiskLow, domain.ActionNone},
		{20, domain.RiskMedium, domain.ActionFlag},
		{39, domain.RiskMedium, domain.ActionFlag},
		{40, domain.RiskHigh, domain.ActionDelay},
		{59, domain.RiskHigh, domain.ActionDelay},
		{60, domain.RiskCritical, domain.ActionReject},
		{100, domain.RiskCritical, domain.ActionReject},
	}
	for _, tc := range cases {
		level, action := d.grade(tc.score)
		assert.Equal(t, tc.level, level, "score %d", tc.score)
		assert.Equal(t, tc.action, action, "score %d", tc.score)
	}
}

func TestAnalyzeWindowBound(t *testing.T) {
	d := NewDetector(Config{WindowSize: 10})

	// Only the last 10 entries count: the early yes run falls outside the
	// window, and the visible tail is all no.
	recent := append(repeatVotes(domain.VoteYes, 85, 40), repeatVotes(domain.VoteNo, 85, 10)...)
	got := d.Analyze(Candidate{
		Choice:        domain.VoteYes,
		Confidence:    75,
		LeadingChoice: domain.VoteSkip,
	}, recent, nil)

	assert.NotContains(t, got.Patterns, domain.PatternRapidConsensus)
}

func TestNewDetectorFillsZeroWeights(t *testing.T) {
	d := NewDetector(Config{CriticalThreshold: 80})

	assert.Equal(t, uint8(25), d.cfg.RapidConsensusWeight)
	assert.Equal(t, uint8(80), d.cfg.CriticalThreshold)
	assert.Equal(t, 50, d.cfg.WindowSize)
}
