package handshake

import (
	"crypto/sha256"
	"encoding/binary"

	"pqproxy/infrastructure/cryptography/mem"
)

// responderLabel is appended to the transcript bytes when computing the data
// signed by the responder's long-term key.
const responderLabel = "srv"

// Transcript accumulates handshake messages in order. Each message is
// appended length-prefixed (u32 BE), so the concatenation is injective and
// both sides hash identical bytes iff they exchanged identical messages.
type Transcript struct {
	buf []byte
}

// Append records one handshake message.
func (t *Transcript) Append(message []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(message)))
	t.buf = append(t.buf, length[:]...)
	t.buf = append(t.buf, message...)
}

// SigningData returns the bytes the responder signs: the transcript so far
// followed by the responder label.
func (t *Transcript) SigningData() []byte {
	data := make([]byte, 0, len(t.buf)+len(responderLabel))
	data = append(data, t.buf...)
	data = append(data, responderLabel...)
	return data
}

// Sum returns the SHA-256 hash of the transcript so far.
func (t *Transcript) Sum() [sha256.Size]byte {
	return sha256.Sum256(t.buf)
}

// Zeroize wipes the accumulated transcript buffer.
func (t *Transcript) Zeroize() {
	mem.ZeroBytes(t.buf)
	t.buf = nil
}
