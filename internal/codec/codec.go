// Package codec serializes vote records into the fixed-width plaintext
// layout sealed by the secure-computation cipher. The codec is pure: it
// defines field order and widths and validates ranges before encoding, but
// never touches ciphertext.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// EncodedSize is the packed payload size in bytes:
// market_id(8) + vote_choice(1) + stake_amount(8) + predicted_probability(1)
// + conviction_score(2) + timestamp(8) + nonce(16).
const EncodedSize = 44

// Field offsets within the packed payload. All integers are big-endian.
const (
	offMarketID    = 0
	offVoteChoice  = 8
	offStake       = 9
	offProbability = 17
	offConviction  = 18
	offTimestamp   = 20
	offNonceHi     = 28
	offNonceLo     = 36
)

// Validate checks every field range without encoding. It returns
// domain.ErrInvalidField wrapped with the offending field name.
func Validate(f domain.VoteFields) error {
	if f.VoteChoice > domain.VoteSkip {
		return fmt.Errorf("codec: vote_choice %d out of range: %w", f.VoteChoice, domain.ErrInvalidField)
	}
	if f.StakeAmount == 0 {
		return fmt.Errorf("codec: stake_amount must be positive: %w", domain.ErrInvalidField)
	}
	if f.PredictedProbability > 100 {
		return fmt.Errorf("codec: predicted_probability %d out of range: %w", f.PredictedProbability, domain.ErrInvalidField)
	}
	if f.ConvictionScore == 0 || f.ConvictionScore > 1000 {
		return fmt.Errorf("codec: conviction_score %d out of range: %w", f.ConvictionScore, domain.ErrInvalidField)
	}
	if f.Timestamp == 0 {
		return fmt.Errorf("codec: timestamp must be set: %w", domain.ErrInvalidField)
	}
	if f.NonceHi == 0 && f.NonceLo == 0 {
		return fmt.Errorf("codec: nonce must be non-zero: %w", domain.ErrInvalidField)
	}
	return nil
}

// Encode validates f and packs it into the fixed-width payload.
func Encode(f domain.VoteFields) ([]byte, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}

	buf := make([]byte, EncodedSize)
	binary.BigEndian.PutUint64(buf[offMarketID:], f.MarketID)
	buf[offVoteChoice] = byte(f.VoteChoice)
	binary.BigEndian.PutUint64(buf[offStake:], f.StakeAmount)
	buf[offProbability] = f.PredictedProbability
	binary.BigEndian.PutUint16(buf[offConviction:], f.ConvictionScore)
	binary.BigEndian.PutUint64(buf[offTimestamp:], f.Timestamp)
	binary.BigEndian.PutUint64(buf[offNonceHi:], f.NonceHi)
	binary.BigEndian.PutUint64(buf[offNonceLo:], f.NonceLo)
	return buf, nil
}

// Decode unpacks a payload produced by Encode. The decoded fields are
// re-validated so a corrupted payload surfaces as ErrInvalidField rather
// than nonsense values.
func Decode(buf []byte) (domain.VoteFields, error) {
	if len(buf) != EncodedSize {
		return domain.VoteFields{}, fmt.Errorf("codec: payload length %d, want %d: %w", len(buf), EncodedSize, domain.ErrInvalidField)
	}

	f := domain.VoteFields{
		MarketID:             binary.BigEndian.Uint64(buf[offMarketID:]),
		VoteChoice:           domain.VoteChoice(buf[offVoteChoice]),
		StakeAmount:          binary.BigEndian.Uint64(buf[offStake:]),
		PredictedProbability: buf[offProbability],
		ConvictionScore:      binary.BigEndian.Uint16(buf[offConviction:]),
		Timestamp:            binary.BigEndian.Uint64(buf[offTimestamp:]),
		NonceHi:              binary.BigEndian.Uint64(buf[offNonceHi:]),
		NonceLo:              binary.BigEndian.Uint64(buf[offNonceLo:]),
	}
	if err := Validate(f); err != nil {
		return domain.VoteFields{}, err
	}
	return f, nil
}
