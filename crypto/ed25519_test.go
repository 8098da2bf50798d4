package crypto

import (
	"testing"

	"github.com/r3e-network/dbft"
)

func TestSignAndVerify(t *testing.T) {
	signers, verifier, err := GenerateCommittee(4)
	if err != nil {
		t.Fatal(err)
	}

	var hash dbft.Hash
	hash[0] = 1
	digest := dbft.VoteDigest(1, 0, hash)

	sig, err := signers[2].Sign(digest)
	if err != nil {
		t.Fatal(err)
	}
	if !verifier.Verify(2, digest, sig) {
		t.Error("signature by seat 2 should verify")
	}
	if verifier.Verify(1, digest, sig) {
		t.Error("signature should not verify for another seat")
	}
	if verifier.Verify(4, digest, sig) {
		t.Error("unknown seat should not verify")
	}
	if verifier.Verify(2, dbft.CommitDigest(1, 0, hash), sig) {
		t.Error("signature should not verify for a different digest")
	}
}

func TestSignerRejectsBadKey(t *testing.T) {
	if _, err := (Signer{}).Sign([]byte("digest")); err == nil {
		t.Error("signer without a key should fail")
	}
}
