package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	labelPrefix    = "pqc-proxy v1|"
	labelClient    = "|c2s"
	labelServer    = "|s2c"
	labelSessionID = "|sid"

	// SessionIDLen is the size of the shared session identifier carried in
	// every framing header.
	SessionIDLen = 8
)

// EpochKeys is the key material for one epoch: one outbound key per
// direction plus the session identifier shared by both directions.
type EpochKeys struct {
	ClientSendKey []byte
	ServerSendKey []byte
	SessionID     [SessionIDLen]byte
}

// Derive runs the single-extract-multiple-expand schedule: HKDF-SHA256 with
// the transcript hash as salt and the KEM shared secret as input keying
// material. Both sides derive identical keys iff they observed identical
// handshake messages in identical order.
func Derive(sharedSecret, transcriptHash []byte, suiteTag string, aeadKeyLen int) (EpochKeys, error) {
	if len(sharedSecret) == 0 {
		return EpochKeys{}, fmt.Errorf("empty shared secret")
	}
	if len(transcriptHash) != sha256.Size {
		return EpochKeys{}, fmt.Errorf("transcript hash must be %d bytes, got %d", sha256.Size, len(transcriptHash))
	}
	if aeadKeyLen <= 0 {
		return EpochKeys{}, fmt.Errorf("invalid AEAD key length %d", aeadKeyLen)
	}

	keys := EpochKeys{
		ClientSendKey: make([]byte, aeadKeyLen),
		ServerSendKey: make([]byte, aeadKeyLen),
	}
	outputs := []struct {
		label string
		dst   []byte
	}{
		{labelClient, keys.ClientSendKey},
		{labelServer, keys.ServerSendKey},
		{labelSessionID, keys.SessionID[:]},
	}
	for _, out := range outputs {
		info := []byte(labelPrefix + suiteTag + out.label)
		reader := hkdf.New(sha256.New, sharedSecret, transcriptHash, info)
		if _, err := io.ReadFull(reader, out.dst); err != nil {
			return EpochKeys{}, fmt.Errorf("failed to derive %q output: %w", out.label, err)
		}
	}
	return keys, nil
}
