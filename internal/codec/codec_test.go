package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

func validFields() domain.VoteFields {
	return domain.VoteFields{
		MarketID:             42,
		VoteChoice:           domain.VoteYes,
		StakeAmount:          1_500,
		PredictedProbability: 80,
		ConvictionScore:      700,
		Timestamp:            1_726_000_000,
		NonceHi:              0xDEADBEEF,
		NonceLo:              0xCAFEBABE,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := validFields()

	buf, err := Encode(f)
	require.NoError(t, err)
	require.Len(t, buf, EncodedSize)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestEncodeFieldOrder(t *testing.T) {
	f := validFields()
	buf, err := Encode(f)
	require.NoError(t, err)

	// market_id is the first big-endian u64, choice the following byte.
	assert.Equal(t, byte(42), buf[7])
	assert.Equal(t, byte(domain.VoteYes), buf[8])
	// predicted_probability sits after the stake u64.
	assert.Equal(t, byte(80), buf[17])
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.VoteFields)
	}{
		{"choice out of range", func(f *domain.VoteFields) { f.VoteChoice = 3 }},
		{"zero stake", func(f *domain.VoteFields) { f.StakeAmount = 0 }},
		{"probability above 100", func(f *domain.VoteFields) { f.PredictedProbability = 101 }},
		{"zero conviction", func(f *domain.VoteFields) { f.ConvictionScore = 0 }},
		{"conviction above 1000", func(f *domain.VoteFields) { f.ConvictionScore = 1001 }},
		{"zero timestamp", func(f *domain.VoteFields) { f.Timestamp = 0 }},
		{"zero nonce", func(f *domain.VoteFields) { f.NonceHi, f.NonceLo = 0, 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFields()
			tc.mutate(&f)

			err := Validate(f)
			require.ErrorIs(t, err, domain.ErrInvalidField)

			_, err = Encode(f)
			assert.ErrorIs(t, err, domain.ErrInvalidField)
		})
	}
}

func TestValidateBoundaryValues(t *testing.T) {
	f := validFields()
	f.PredictedProbability = 100
	f.ConvictionScore = 1000
	require.NoError(t, Validate(f))

	f.ConvictionScore = 1
	f.PredictedProbability = 0
	require.NoError(t, Validate(f))

	// A half-zero nonce is still non-zero.
	f.NonceHi = 0
	f.NonceLo = 1
	require.NoError(t, Validate(f))
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, EncodedSize-1))
	assert.ErrorIs(t, err, domain.ErrInvalidField)

	_, err = Decode(make([]byte, EncodedSize+1))
	assert.ErrorIs(t, err, domain.ErrInvalidField)
}

func TestDecodeRevalidates(t *testing.T) {
	buf, err := Encode(validFields())
	require.NoError(t, err)

	// Corrupt the choice byte to an out-of-range value.
	buf[8] = 7
	_, err = Decode(buf)
	assert.ErrorIs(t, err, domain.ErrInvalidField)
}

func TestHashEvidence(t *testing.T) {
	a := HashEvidence("https://example.com/report", "sha256:abc")
	b := HashEvidence("https://example.com/report", "sha256:abc")
	assert.Equal(t, a, b)

	c := HashEvidence("https://example.com/report", "sha256:def")
	assert.NotEqual(t, a, c)

	// Empty input still yields a stable commitment.
	empty := HashEvidence()
	assert.Equal(t, HashEvidence(), empty)
	assert.NotEqual(t, a, empty)
}
