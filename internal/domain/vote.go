package domain

import "time"

// VoteChoice is the direction of a vote. The wire values match the encrypted
// payload encoding.
type VoteChoice uint8

const (
	VoteNo   VoteChoice = 0
	VoteYes  VoteChoice = 1
	VoteSkip VoteChoice = 2
)

// String returns the lowercase name of the choice.
func (c VoteChoice) String() string {
	switch c {
	case VoteNo:
		return "no"
	case VoteYes:
		return "yes"
	case VoteSkip:
		return "skip"
	default:
		return "invalid"
	}
}

// VoteFields are the plaintext fields sealed into an encrypted vote payload,
// in wire order. Encoding widths: market_id u64, vote_choice u8, stake u64,
// predicted_probability u8, conviction_score u16, timestamp u64, nonce u128.
type VoteFields struct {
	MarketID             uint64
	VoteChoice           VoteChoice
	StakeAmount          uint64
	PredictedProbability uint8  // 0-100
	ConvictionScore      uint16 // 1-1000
	Timestamp            uint64 // unix seconds
	NonceHi              uint64
	NonceLo              uint64
}

// EncryptedVote is a submitted, still-encrypted vote. Immutable once stored;
// at most one exists per (MarketID, Voter).
type EncryptedVote struct {
	Voter        PrincipalID
	MarketID     MarketID
	Ciphertext   []byte
	Confidence   uint8 // 0-100, self-reported
	EvidenceHash [32]byte
	Timestamp    time.Time
	NonceHi      uint64
	NonceLo      uint64
}

// VoteReceipt is returned to the caller on a successful submission.
type VoteReceipt struct {
	MarketID    MarketID
	Voter       PrincipalID
	SubmittedAt time.Time
	// HerdingFlagged is set when the submission passed the gate but was
	// flagged or delayed; advisory only.
	HerdingFlagged bool
	HerdingScore   uint8
}
