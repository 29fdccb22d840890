package wire

import (
	"bytes"
	"errors"
	"testing"
)

func sampleHeader() Header {
	return Header{
		Version:   Version,
		KEMID:     1,
		KEMParam:  2,
		SigID:     1,
		SigParam:  2,
		SessionID: [8]byte{0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48},
		Seq:       7,
		Epoch:     3,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()

	packed, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if len(packed) != HeaderLen {
		t.Fatalf("packed length %d, want %d", len(packed), HeaderLen)
	}

	var parsed Header
	if err := parsed.UnmarshalBinary(packed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, h)
	}
}

func TestHeaderFieldOffsets(t *testing.T) {
	packed, _ := sampleHeader().MarshalBinary()

	// version | kem_id kem_param sig_id sig_param | session id | seq | epoch
	expected := []byte{
		1,
		1, 2, 1, 2,
		0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
		0, 0, 0, 0, 0, 0, 0, 7,
		3,
	}
	if !bytes.Equal(packed, expected) {
		t.Fatalf("packed header %x, want %x", packed, expected)
	}
}

func TestUnmarshalRejectsShortInput(t *testing.T) {
	var h Header
	if err := h.UnmarshalBinary(make([]byte, HeaderLen-1)); !errors.Is(err, ErrHeaderLength) {
		t.Fatalf("expected ErrHeaderLength, got %v", err)
	}
}

func TestUnmarshalRejectsWrongVersion(t *testing.T) {
	packed, _ := sampleHeader().MarshalBinary()
	packed[0] = 2

	var h Header
	if err := h.UnmarshalBinary(packed); !errors.Is(err, ErrHeaderVersion) {
		t.Fatalf("expected ErrHeaderVersion, got %v", err)
	}
}

func TestMatchesPrefixIgnoresSeq(t *testing.T) {
	expected := sampleHeader()

	got := expected
	got.Seq = 999999
	if !got.MatchesPrefix(expected) {
		t.Fatal("seq must not participate in prefix matching")
	}

	got = expected
	got.Epoch++
	if got.MatchesPrefix(expected) {
		t.Fatal("epoch mismatch must fail prefix matching")
	}

	got = expected
	got.SessionID[0] ^= 0xFF
	if got.MatchesPrefix(expected) {
		t.Fatal("session mismatch must fail prefix matching")
	}
}

func TestNonceEncoding(t *testing.T) {
	var nonce [NonceLen]byte
	PutNonce(nonce[:], 0x0102030405060708)

	expected := []byte{0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(nonce[:], expected) {
		t.Fatalf("nonce %x, want %x", nonce, expected)
	}
	if !NonceMatchesSeq(nonce[:], 0x0102030405060708) {
		t.Fatal("canonical nonce must match its seq")
	}
	if NonceMatchesSeq(nonce[:], 0x0102030405060709) {
		t.Fatal("nonce must not match a different seq")
	}
	if NonceMatchesSeq(nonce[:4], 0x0102030405060708) {
		t.Fatal("short nonce must not match")
	}
}
