package datagram

import (
	"crypto/cipher"
	"sync"

	"pqproxy/infrastructure/wire"
)

// Receiver authenticates wire datagrams for one epoch of the peer's
// outbound direction: strict header prefix matching, nonce/seq consistency,
// replay window pre-check, AEAD open, then window commit. The window is
// never updated on authentication failure, so forged packets cannot poison
// replay state.
type Receiver struct {
	mu       sync.Mutex
	aead     cipher.AEAD
	expected wire.Header
	window   *ReplayWindow
}

// NewReceiver builds a Receiver. expected carries the header prefix every
// datagram must present (Seq is ignored); windowSize is the replay window
// in packets.
func NewReceiver(aead cipher.AEAD, expected wire.Header, windowSize int) (*Receiver, error) {
	window, err := NewReplayWindow(windowSize)
	if err != nil {
		return nil, err
	}
	expected.Version = wire.Version
	expected.Seq = 0
	return &Receiver{
		aead:     aead,
		expected: expected,
		window:   window,
	}, nil
}

// Decrypt validates and opens a wire datagram, returning the plaintext or a
// typed rejection. The rejection kind is a debugging surface; production
// callers drop and count.
func (r *Receiver) Decrypt(wireBytes []byte) ([]byte, *Rejection) {
	if len(wireBytes) < wire.HeaderLen+wire.NonceLen+r.aead.Overhead() {
		return nil, rejectMalformed
	}

	var hdr wire.Header
	if err := hdr.UnmarshalBinary(wireBytes[:wire.HeaderLen]); err != nil {
		return nil, rejectHeaderMismatch
	}
	if !hdr.MatchesPrefix(r.expected) {
		return nil, rejectHeaderMismatch
	}

	nonce := wireBytes[wire.HeaderLen : wire.HeaderLen+wire.NonceLen]
	if !wire.NonceMatchesSeq(nonce, hdr.Seq) {
		return nil, rejectNonceInconsistent
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rej := r.window.Check(hdr.Seq); rej != nil {
		return nil, rej
	}

	plaintext, err := r.aead.Open(nil, r.cipherNonce(nonce), wireBytes[wire.HeaderLen+wire.NonceLen:], wireBytes[:wire.HeaderLen])
	if err != nil {
		return nil, rejectAuthFail
	}

	r.window.Accept(hdr.Seq)
	return plaintext, nil
}

// Open is the production boundary: plaintext on success, nil on any
// rejection.
func (r *Receiver) Open(wireBytes []byte) []byte {
	plaintext, rejection := r.Decrypt(wireBytes)
	if rejection != nil {
		return nil
	}
	return plaintext
}

func (r *Receiver) cipherNonce(wireNonce []byte) []byte {
	size := r.aead.NonceSize()
	if size == wire.NonceLen {
		return wireNonce
	}
	nonce := make([]byte, size)
	copy(nonce[size-wire.NonceLen:], wireNonce)
	return nonce
}

// Highest exposes the replay window's high-water mark for tests and status.
func (r *Receiver) Highest() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.window.Highest()
}

// Contains reports whether seq was accepted and is still inside the window.
func (r *Receiver) Contains(seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.window.Contains(seq)
}

// Epoch returns the epoch this Receiver accepts.
func (r *Receiver) Epoch() uint8 {
	return r.expected.Epoch
}

// Zeroize clears replay state. Key material inside the cipher cannot be
// reached from here; callers zeroize the raw keys they constructed the
// cipher from.
func (r *Receiver) Zeroize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window.Zeroize()
}
