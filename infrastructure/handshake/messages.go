package handshake

import (
	"encoding/binary"
	"fmt"
)

const (
	nonceLength = 16

	// maxOfferedSuites bounds the ClientHello so a peer cannot inflate the
	// transcript arbitrarily.
	maxOfferedSuites = 16
	maxSuiteIDLength = 64
)

// ClientHello opens the handshake: protocol version, the suites the
// initiator is willing to run, and a random nonce mixed into the transcript.
type ClientHello struct {
	Version  uint8
	SuiteIDs []string
	Nonce    [nonceLength]byte
}

func (c *ClientHello) MarshalBinary() ([]byte, error) {
	if len(c.SuiteIDs) == 0 || len(c.SuiteIDs) > maxOfferedSuites {
		return nil, fmt.Errorf("offered suite count %d out of range", len(c.SuiteIDs))
	}
	size := 2 + nonceLength
	for _, id := range c.SuiteIDs {
		if len(id) == 0 || len(id) > maxSuiteIDLength {
			return nil, fmt.Errorf("suite id length %d out of range", len(id))
		}
		size += 1 + len(id)
	}

	out := make([]byte, 0, size)
	out = append(out, c.Version, uint8(len(c.SuiteIDs)))
	for _, id := range c.SuiteIDs {
		out = append(out, uint8(len(id)))
		out = append(out, id...)
	}
	out = append(out, c.Nonce[:]...)
	return out, nil
}

func (c *ClientHello) UnmarshalBinary(data []byte) error {
	if len(data) < 2+nonceLength {
		return fmt.Errorf("client hello too short: %d bytes", len(data))
	}
	c.Version = data[0]
	count := int(data[1])
	if count == 0 || count > maxOfferedSuites {
		return fmt.Errorf("offered suite count %d out of range", count)
	}

	offset := 2
	c.SuiteIDs = make([]string, 0, count)
	for i := 0; i < count; i++ {
		if offset >= len(data) {
			return fmt.Errorf("truncated suite list")
		}
		idLen := int(data[offset])
		offset++
		if idLen == 0 || idLen > maxSuiteIDLength || offset+idLen > len(data) {
			return fmt.Errorf("invalid suite id length %d", idLen)
		}
		c.SuiteIDs = append(c.SuiteIDs, string(data[offset:offset+idLen]))
		offset += idLen
	}
	if len(data) != offset+nonceLength {
		return fmt.Errorf("client hello trailing bytes")
	}
	copy(c.Nonce[:], data[offset:])
	return nil
}

// ServerHello answers with the chosen suite, the responder's ephemeral KEM
// public key, a nonce, and a signature over the transcript. The signature
// covers everything up to and including the hello core but never itself.
type ServerHello struct {
	SuiteID      string
	KEMPublicKey []byte
	Nonce        [nonceLength]byte
	Signature    []byte
}

// core serializes the signed portion of the hello.
func (s *ServerHello) core() ([]byte, error) {
	if len(s.SuiteID) == 0 || len(s.SuiteID) > maxSuiteIDLength {
		return nil, fmt.Errorf("suite id length %d out of range", len(s.SuiteID))
	}
	if len(s.KEMPublicKey) == 0 {
		return nil, fmt.Errorf("empty KEM public key")
	}

	out := make([]byte, 0, 1+len(s.SuiteID)+4+len(s.KEMPublicKey)+nonceLength)
	out = append(out, uint8(len(s.SuiteID)))
	out = append(out, s.SuiteID...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(s.KEMPublicKey)))
	out = append(out, s.KEMPublicKey...)
	out = append(out, s.Nonce[:]...)
	return out, nil
}

func (s *ServerHello) MarshalBinary() ([]byte, error) {
	core, err := s.core()
	if err != nil {
		return nil, err
	}
	if len(s.Signature) == 0 {
		return nil, fmt.Errorf("empty signature")
	}
	out := make([]byte, 0, len(core)+4+len(s.Signature))
	out = append(out, core...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(s.Signature)))
	out = append(out, s.Signature...)
	return out, nil
}

func (s *ServerHello) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("server hello too short")
	}
	idLen := int(data[0])
	if idLen == 0 || idLen > maxSuiteIDLength || len(data) < 1+idLen+4 {
		return fmt.Errorf("invalid suite id length %d", idLen)
	}
	s.SuiteID = string(data[1 : 1+idLen])
	offset := 1 + idLen

	keyLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if keyLen == 0 || offset+keyLen+nonceLength+4 > len(data) {
		return fmt.Errorf("invalid KEM public key length %d", keyLen)
	}
	s.KEMPublicKey = append([]byte(nil), data[offset:offset+keyLen]...)
	offset += keyLen

	copy(s.Nonce[:], data[offset:offset+nonceLength])
	offset += nonceLength

	sigLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if sigLen == 0 || offset+sigLen != len(data) {
		return fmt.Errorf("invalid signature length %d", sigLen)
	}
	s.Signature = append([]byte(nil), data[offset:]...)
	return nil
}

// CoreBytes re-serializes the signed portion for transcript accumulation and
// signature verification.
func (s *ServerHello) CoreBytes() ([]byte, error) {
	return s.core()
}

// ClientKeyExchange carries the KEM ciphertext produced by encapsulating
// under the responder's ephemeral public key.
type ClientKeyExchange struct {
	KEMCiphertext []byte
}

func (c *ClientKeyExchange) MarshalBinary() ([]byte, error) {
	if len(c.KEMCiphertext) == 0 {
		return nil, fmt.Errorf("empty KEM ciphertext")
	}
	out := make([]byte, 0, 4+len(c.KEMCiphertext))
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.KEMCiphertext)))
	out = append(out, c.KEMCiphertext...)
	return out, nil
}

func (c *ClientKeyExchange) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("key exchange too short")
	}
	ctLen := int(binary.BigEndian.Uint32(data[:4]))
	if ctLen == 0 || 4+ctLen != len(data) {
		return fmt.Errorf("invalid KEM ciphertext length %d", ctLen)
	}
	c.KEMCiphertext = append([]byte(nil), data[4:]...)
	return nil
}
