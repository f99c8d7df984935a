package mpc

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	require.NoError(t, err)

	plaintext := []byte("packed vote payload")
	envelope, err := Seal(plaintext, pub, rand.Reader)
	require.NoError(t, err)
	require.Len(t, envelope, len(plaintext)+SealOverhead)

	got, err := Open(envelope, priv)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSealIsRandomized(t *testing.T) {
	pub, _, err := GenerateKeypair()
	require.NoError(t, err)

	plaintext := []byte("same payload")
	a, err := Seal(plaintext, pub, rand.Reader)
	require.NoError(t, err)
	b, err := Seal(plaintext, pub, rand.Reader)
	require.NoError(t, err)

	// Fresh ephemeral keys and nonces: identical plaintexts never produce
	// identical envelopes.
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTamperedEnvelope(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	require.NoError(t, err)

	envelope, err := Seal([]byte("payload"), pub, rand.Reader)
	require.NoError(t, err)

	envelope[len(envelope)-1] ^= 0x01
	_, err = Open(envelope, priv)
	assert.Error(t, err)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	pub, _, err := GenerateKeypair()
	require.NoError(t, err)
	_, otherPriv, err := GenerateKeypair()
	require.NoError(t, err)

	envelope, err := Seal([]byte("payload"), pub, rand.Reader)
	require.NoError(t, err)

	_, err = Open(envelope, otherPriv)
	assert.Error(t, err)
}

func TestOpenRejectsShortEnvelope(t *testing.T) {
	_, priv, err := GenerateKeypair()
	require.NoError(t, err)

	_, err = Open(make([]byte, SealOverhead-1), priv)
	assert.Error(t, err)
}
