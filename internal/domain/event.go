package domain

import "time"

// Pub/sub channels carrying resolution lifecycle signals. Each channel is
// mirrored into a durable stream (see StreamFor) so workers that were down
// can catch up.
const (
	ChannelVotes       = "votes"
	ChannelResolutions = "resolutions"
	ChannelDisputes    = "disputes"
)

// StreamFor maps a pub/sub channel to the durable stream backing it.
func StreamFor(channel string) string {
	return "stream:" + channel
}

// Event names carried on the signal bus.
const (
	EventVoteAccepted        = "vote.accepted"
	EventResolutionRequested = "resolution.requested"
	EventResolutionCreated   = "resolution.created"
	EventResolutionFinalized = "resolution.finalized"
	EventDisputeSubmitted    = "dispute.submitted"
	EventDisputeAccepted     = "dispute.accepted"
	EventDisputeRejected     = "dispute.rejected"
	EventDisputeFlagged      = "dispute.flagged"
)

// Event is the envelope published on the signal bus. Fields not relevant to
// a given event name stay zero and are omitted on the wire.
type Event struct {
	Name        string    `json:"event"`
	MarketID    MarketID  `json:"market_id,omitempty"`
	Version     int       `json:"version,omitempty"`
	Voter       string    `json:"voter,omitempty"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	Score       uint8     `json:"score,omitempty"`
	At          time.Time `json:"at"`
}
