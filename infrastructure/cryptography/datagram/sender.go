package datagram

import (
	"crypto/cipher"
	"math"
	"sync"

	"pqproxy/infrastructure/wire"
)

// Sender seals plaintext datagrams under one epoch's outbound key. Nonces
// are the big-endian encoding of a strictly increasing sequence counter, so
// a (key, nonce) pair is never reused. Safe for concurrent use; the rekey
// commit path shares the active Sender with the dataplane.
type Sender struct {
	mu        sync.Mutex
	aead      cipher.AEAD
	template  wire.Header
	seq       uint64
	exhausted bool
}

// NewSender builds a Sender from an AEAD cipher and a header template. The
// template's Seq field is ignored; every other field is stamped into each
// outgoing header.
func NewSender(aead cipher.AEAD, template wire.Header) *Sender {
	template.Version = wire.Version
	template.Seq = 0
	return &Sender{
		aead:     aead,
		template: template,
	}
}

// Encrypt seals plaintext and returns the wire datagram
// header || nonce || ciphertext-with-tag.
func (s *Sender) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Every value up to and including 2^64-1 is a usable, never-reused
	// nonce; the counter only fails once it would wrap.
	if s.exhausted {
		return nil, ErrSequenceExhausted
	}

	hdr := s.template
	hdr.Seq = s.seq

	out := make([]byte, wire.HeaderLen+wire.NonceLen, wire.HeaderLen+wire.NonceLen+len(plaintext)+s.aead.Overhead())
	hdr.Put(out[:wire.HeaderLen])
	wire.PutNonce(out[wire.HeaderLen:], s.seq)

	out = s.aead.Seal(out, s.cipherNonce(out[wire.HeaderLen:wire.HeaderLen+wire.NonceLen]), plaintext, out[:wire.HeaderLen])

	if s.seq == math.MaxUint64 {
		s.exhausted = true
	} else {
		s.seq++
	}
	return out, nil
}

// cipherNonce adapts the 12-byte wire nonce to the cipher's nonce size.
// ASCON uses 16-byte nonces; the wire nonce occupies the low-order bytes.
func (s *Sender) cipherNonce(wireNonce []byte) []byte {
	size := s.aead.NonceSize()
	if size == wire.NonceLen {
		return wireNonce
	}
	nonce := make([]byte, size)
	copy(nonce[size-wire.NonceLen:], wireNonce)
	return nonce
}

// Seq returns the next sequence number to be used.
func (s *Sender) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Epoch returns the epoch this Sender seals under.
func (s *Sender) Epoch() uint8 {
	return s.template.Epoch
}
