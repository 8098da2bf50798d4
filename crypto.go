package dbft

import "encoding/binary"

// Signer produces this node's signatures over consensus payloads.
// Implementations live outside this repository (wallet / key management);
// the engine only invokes them.
type Signer interface {
	// Sign signs the given digest and returns the signature bytes.
	Sign(digest []byte) ([]byte, error)
}

// Verifier checks signatures against the committee's public keys.
type Verifier interface {
	// Verify reports whether sig is a valid signature by the given
	// validator over the digest.
	Verify(validator ID, digest, sig []byte) bool
}

// VoteDigest is the canonical byte string signed by a vote (prepare response):
// a domain tag, the (height, view) round, and the block hash.
func VoteDigest(height Height, view View, blockHash Hash) []byte {
	return digest(MessageVote, height, view, blockHash)
}

// CommitDigest is the canonical byte string signed by a commit message.
// The domain tag keeps a vote signature from being replayed as a commit.
func CommitDigest(height Height, view View, blockHash Hash) []byte {
	return digest(MessageCommit, height, view, blockHash)
}

func digest(tag MessageType, height Height, view View, blockHash Hash) []byte {
	buf := make([]byte, 9, 9+len(blockHash))
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint32(buf[1:], uint32(height))
	binary.LittleEndian.PutUint32(buf[5:], uint32(view))
	return append(buf, blockHash[:]...)
}
