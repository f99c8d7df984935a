package codec

import "github.com/ethereum/go-ethereum/crypto"

// HashEvidence computes the 32-byte commitment over an ordered set of
// evidence references (URLs, document digests). Keccak-256 keeps the
// commitment compatible with on-chain verification.
func HashEvidence(refs ...string) [32]byte {
	data := make([][]byte, len(refs))
	for i, r := range refs {
		data[i] = []byte(r)
	}

	var out [32]byte
	copy(out[:], crypto.Keccak256(data...))
	return out
}
