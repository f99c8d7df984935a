package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PrincipalID identifies an oracle or voter by its on-chain address.
type PrincipalID = common.Address

// HexToPrincipal parses a hex-encoded principal address.
func HexToPrincipal(s string) PrincipalID {
	return common.HexToAddress(s)
}

// Oracle is a registered oracle/voter. Oracles are never deleted, only
// deactivated; reputation is recomputed by the aggregation engine after each
// resolution the oracle participated in.
type Oracle struct {
	Address            PrincipalID
	Reputation         uint8 // 0-100
	Specialization     []Category
	Stake              uint64
	Active             bool
	TotalResolutions   uint32
	CorrectResolutions uint32
	LastActiveAt       time.Time
	RegisteredAt       time.Time
}

// Specializes reports whether the oracle covers the given category, either
// directly or through the general specialization.
func (o Oracle) Specializes(c Category) bool {
	for _, s := range o.Specialization {
		if s == c || s == CategoryGeneral {
			return true
		}
	}
	return false
}

// SpecializesExactly reports a direct (non-general) specialization match.
// Used as the primary sort key when selecting oracles for a market.
func (o Oracle) SpecializesExactly(c Category) bool {
	for _, s := range o.Specialization {
		if s == c {
			return true
		}
	}
	return false
}

// AccuracyRate returns the fraction of resolutions the oracle got right.
func (o Oracle) AccuracyRate() float64 {
	if o.TotalResolutions == 0 {
		return 0
	}
	return float64(o.CorrectResolutions) / float64(o.TotalResolutions)
}
