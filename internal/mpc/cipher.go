// Package mpc implements the secure multi-party computation collaborator
// contract: client-side vote sealing plus two domain.Computer
// implementations, a remote cluster gateway and a deterministic local double.
package mpc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// SealOverhead is ephemeralPub(32) + nonce(12) + GCM tag(16).
	SealOverhead = 32 + 12 + 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// hkdfInfo domain-separates the derived keys.
	hkdfInfo = "oraclecore/vote-seal/v1"
)

// Seal encrypts a packed vote payload against the cluster public key using
// an ephemeral X25519 key exchange, HKDF-SHA256 key derivation, and
// AES-256-GCM. The envelope layout is ephemeralPub || nonce || ciphertext.
func Seal(plaintext []byte, clusterPub [32]byte, random io.Reader) ([]byte, error) {
	var ephPriv [32]byte
	if _, err := io.ReadFull(random, ephPriv[:]); err != nil {
		return nil, fmt.Errorf("mpc: ephemeral key: %w", err)
	}

	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mpc: ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephPriv[:], clusterPub[:])
	if err != nil {
		return nil, fmt.Errorf("mpc: key exchange: %w", err)
	}

	key := make([]byte, aesKeyLen)
	kdf := hkdf.New(sha256.New, shared, ephPub, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("mpc: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mpc: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mpc: gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, fmt.Errorf("mpc: nonce: %w", err)
	}

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open decrypts an envelope produced by Seal using the cluster private key.
// Only cluster-side implementations (and the local double) hold that key;
// the core never calls Open on live traffic.
func Open(envelope []byte, clusterPriv [32]byte) ([]byte, error) {
	if len(envelope) < SealOverhead {
		return nil, fmt.Errorf("mpc: envelope too short (%d bytes)", len(envelope))
	}

	ephPub := envelope[:32]
	nonce := envelope[32:44]
	ct := envelope[44:]

	shared, err := curve25519.X25519(clusterPriv[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("mpc: key exchange: %w", err)
	}

	key := make([]byte, aesKeyLen)
	kdf := hkdf.New(sha256.New, shared, ephPub, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("mpc: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mpc: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mpc: gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("mpc: open envelope: %w", err)
	}
	return plaintext, nil
}

// GenerateKeypair returns a fresh X25519 keypair. Used by the local double
// and by cluster provisioning tooling.
func GenerateKeypair() (pub, priv [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return pub, priv, fmt.Errorf("mpc: generate keypair: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, fmt.Errorf("mpc: generate keypair: %w", err)
	}
	copy(pub[:], p)
	return pub, priv, nil
}
