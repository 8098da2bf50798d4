// Package crypto implements the consensus signer and verifier interfaces
// with ed25519 over the digests produced by the dbft package.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/r3e-network/dbft"
)

// Signer signs consensus digests with an ed25519 private key.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner returns a signer for the given private key.
func NewSigner(priv ed25519.PrivateKey) Signer {
	return Signer{priv: priv}
}

// Sign implements dbft.Signer.
func (s Signer) Sign(digest []byte) ([]byte, error) {
	if len(s.priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key of %d bytes", len(s.priv))
	}
	return ed25519.Sign(s.priv, digest), nil
}

// Verifier verifies consensus signatures against the committee's public keys.
type Verifier struct {
	keys map[dbft.ID]ed25519.PublicKey
}

// NewVerifier returns a verifier for the given committee keys.
func NewVerifier(keys map[dbft.ID]ed25519.PublicKey) *Verifier {
	return &Verifier{keys: keys}
}

// Verify implements dbft.Verifier.
func (v *Verifier) Verify(validator dbft.ID, digest, sig []byte) bool {
	key, ok := v.keys[validator]
	if !ok {
		return false
	}
	return ed25519.Verify(key, digest, sig)
}

// GenerateCommittee generates fresh keys for a committee of n seats and
// returns one signer per seat plus the shared verifier.
func GenerateCommittee(n uint32) ([]Signer, *Verifier, error) {
	signers := make([]Signer, 0, n)
	keys := make(map[dbft.ID]ed25519.PublicKey, n)
	for i := uint32(0); i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate key for seat %d: %w", i, err)
		}
		signers = append(signers, NewSigner(priv))
		keys[dbft.ID(i)] = pub
	}
	return signers, NewVerifier(keys), nil
}
