package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/cloudflare/circl/cipher/ascon"
	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD wire tokens. The token is part of the canonical suite ID and selects
// the cipher used for datagram protection.
const (
	AEADTokenAESGCM           = "aesgcm"
	AEADTokenChaCha20Poly1305 = "chacha20poly1305"
	AEADTokenAscon128         = "ascon128"
)

// AEADKeySize returns the key length in bytes for an AEAD token.
func AEADKeySize(token string) (int, error) {
	switch token {
	case AEADTokenAESGCM, AEADTokenChaCha20Poly1305:
		return 32, nil
	case AEADTokenAscon128:
		return ascon.KeySize, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownAEAD, token)
	}
}

// NewAEAD constructs the AEAD cipher selected by token.
func NewAEAD(token string, key []byte) (cipher.AEAD, error) {
	want, err := AEADKeySize(token)
	if err != nil {
		return nil, err
	}
	if len(key) != want {
		return nil, fmt.Errorf("%w: token %s wants %d bytes, got %d", ErrInvalidKeySize, token, want, len(key))
	}

	switch token {
	case AEADTokenAESGCM:
		block, blockErr := aes.NewCipher(key)
		if blockErr != nil {
			return nil, blockErr
		}
		return cipher.NewGCM(block)
	case AEADTokenChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case AEADTokenAscon128:
		return ascon.New(key, ascon.Ascon128)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAEAD, token)
	}
}

// AEADTokens lists every token this build can instantiate.
func AEADTokens() []string {
	return []string{AEADTokenAESGCM, AEADTokenChaCha20Poly1305, AEADTokenAscon128}
}
