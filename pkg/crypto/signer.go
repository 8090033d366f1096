// Package crypto implements envelope signing: Ed25519 key handling and the
// prefixed signature encoding used on the wire.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
)

// Signature encoding pieces. A wire signature is
// SigPrefixEd25519 + SigSeparator + base64(raw signature).
const (
	SigPrefixEd25519 = "ed25519"
	SigSeparator     = ":"
)

// Signer holds the ledger signing key. Immutable after construction and safe
// for concurrent use across appends.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner wraps an already-loaded private key.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}
}

// NewSignerFromSeed loads the base64 seed form used in configuration.
func NewSignerFromSeed(seedB64 string) (*Signer, error) {
	priv, err := LoadPrivateKey(seedB64)
	if err != nil {
		return nil, err
	}
	return NewSigner(priv), nil
}

// Sign returns the prefixed base64 signature over data.
func (s *Signer) Sign(data []byte) string {
	sig := ed25519.Sign(s.priv, data)
	return SigPrefixEd25519 + SigSeparator + base64.StdEncoding.EncodeToString(sig)
}

// Public returns the verification key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.pub
}

// PublicBase64 returns the verification key in its configured string form.
func (s *Signer) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(s.pub)
}

// Verify checks a prefixed signature over data. Any deviation (wrong prefix,
// bad base64, wrong length, failed verification) reads as failure.
func Verify(pub ed25519.PublicKey, data []byte, signature string) bool {
	rest, ok := strings.CutPrefix(signature, SigPrefixEd25519+SigSeparator)
	if !ok {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(rest)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
