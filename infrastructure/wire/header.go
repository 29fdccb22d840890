package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// Version is frozen; any other value on the wire is rejected.
	Version = 1

	// HeaderLen is the fixed framing header size:
	// version(1) kem_id(1) kem_param(1) sig_id(1) sig_param(1)
	// session_id(8) seq(8) epoch(1).
	HeaderLen = 22

	// NonceLen is the transmitted nonce size. The nonce is fully
	// determined by seq; it travels on the wire for interop and is
	// verified against seq by the receiver.
	NonceLen = 12

	// TagLen is the AEAD tag size for every supported cipher.
	TagLen = 16

	// MinDatagramLen is the smallest well-formed wire datagram.
	MinDatagramLen = HeaderLen + NonceLen + TagLen
)

// Header is the framing header. Its packed form is fed verbatim to the AEAD
// as associated data.
type Header struct {
	Version   uint8
	KEMID     uint8
	KEMParam  uint8
	SigID     uint8
	SigParam  uint8
	SessionID [8]byte
	Seq       uint64
	Epoch     uint8
}

// MarshalBinary packs the header in network byte order.
func (h Header) MarshalBinary() ([]byte, error) {
	out := make([]byte, HeaderLen)
	h.Put(out)
	return out, nil
}

// Put packs the header into dst, which must hold at least HeaderLen bytes.
func (h Header) Put(dst []byte) {
	dst[0] = h.Version
	dst[1] = h.KEMID
	dst[2] = h.KEMParam
	dst[3] = h.SigID
	dst[4] = h.SigParam
	copy(dst[5:13], h.SessionID[:])
	binary.BigEndian.PutUint64(dst[13:21], h.Seq)
	dst[21] = h.Epoch
}

// UnmarshalBinary parses and validates a packed header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderLen {
		return fmt.Errorf("%w: %d bytes", ErrHeaderLength, len(data))
	}
	if data[0] != Version {
		return fmt.Errorf("%w: %d", ErrHeaderVersion, data[0])
	}
	h.Version = data[0]
	h.KEMID = data[1]
	h.KEMParam = data[2]
	h.SigID = data[3]
	h.SigParam = data[4]
	copy(h.SessionID[:], data[5:13])
	h.Seq = binary.BigEndian.Uint64(data[13:21])
	h.Epoch = data[21]
	return nil
}

// MatchesPrefix reports whether every field except Seq equals the expected
// header. Receivers use it to reject traffic from foreign sessions, suites
// and epochs before touching the cipher.
func (h Header) MatchesPrefix(expected Header) bool {
	return h.Version == expected.Version &&
		h.KEMID == expected.KEMID &&
		h.KEMParam == expected.KEMParam &&
		h.SigID == expected.SigID &&
		h.SigParam == expected.SigParam &&
		h.SessionID == expected.SessionID &&
		h.Epoch == expected.Epoch
}

// PutNonce writes the deterministic 12-byte big-endian nonce for seq.
func PutNonce(dst []byte, seq uint64) {
	dst[0] = 0
	dst[1] = 0
	dst[2] = 0
	dst[3] = 0
	binary.BigEndian.PutUint64(dst[4:12], seq)
}

// NonceMatchesSeq verifies a received nonce is the canonical encoding of seq.
func NonceMatchesSeq(nonce []byte, seq uint64) bool {
	if len(nonce) != NonceLen {
		return false
	}
	var expected [NonceLen]byte
	PutNonce(expected[:], seq)
	return [NonceLen]byte(nonce) == expected
}
