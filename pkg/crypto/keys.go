package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/veriledger/veriledger/pkg/contracts"
)

// LoadPrivateKey decodes a base64 signing seed into a private key. Only a
// 32-byte Ed25519 seed is accepted. Errors never carry key material.
func LoadPrivateKey(seedB64 string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, contracts.NewFault(contracts.KeyFormatError, "signing seed is not valid base64")
	}
	if len(raw) != ed25519.SeedSize {
		return nil, contracts.Faultf(contracts.KeyFormatError,
			"signing seed must decode to %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

// LoadPublicKey decodes a base64 Ed25519 public key.
func LoadPublicKey(pubB64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, contracts.NewFault(contracts.KeyFormatError, "public key is not valid base64")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, contracts.Faultf(contracts.KeyFormatError,
			"public key must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// GenerateKeypair mints a fresh seed and matching public key in their base64
// configuration forms.
func GenerateKeypair() (seedB64, publicB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("key generation failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(priv.Seed()),
		base64.StdEncoding.EncodeToString(pub),
		nil
}
