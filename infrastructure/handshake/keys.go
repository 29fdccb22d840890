package handshake

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudflare/circl/sign"

	"pqproxy/infrastructure/cryptography/mem"
	"pqproxy/infrastructure/cryptography/primitives"
	"pqproxy/infrastructure/suite"
)

// KeyStore resolves pre-distributed long-term signature keys. The configured
// path is either a single raw key file or a directory holding one file per
// signature mechanism, named <sig-token>.pub / <sig-token>.key.
type KeyStore struct {
	path string
}

func NewKeyStore(path string) *KeyStore {
	return &KeyStore{path: path}
}

func (k *KeyStore) resolve(d suite.Descriptor, extension string) (string, error) {
	info, err := os.Stat(k.path)
	if err != nil {
		return "", fmt.Errorf("key path %s: %w", k.path, err)
	}
	if info.IsDir() {
		return filepath.Join(k.path, d.SigToken+extension), nil
	}
	return k.path, nil
}

// PublicKey loads the peer's long-term verification key for the suite's
// signature mechanism.
func (k *KeyStore) PublicKey(d suite.Descriptor) (sign.PublicKey, error) {
	scheme, err := primitives.SignatureByName(d.SigName)
	if err != nil {
		return nil, err
	}
	path, err := k.resolve(d, ".pub")
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	return pub, nil
}

// PrivateKey loads the local long-term signing key for the suite's signature
// mechanism. The raw file contents are wiped after parsing.
func (k *KeyStore) PrivateKey(d suite.Descriptor) (sign.PrivateKey, error) {
	scheme, err := primitives.SignatureByName(d.SigName)
	if err != nil {
		return nil, err
	}
	path, err := k.resolve(d, ".key")
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(raw)
	mem.ZeroBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %s: %w", path, err)
	}
	return priv, nil
}
