package primitives

import "errors"

var (
	ErrUnknownKEM          = errors.New("unknown KEM mechanism")
	ErrUnknownSignature    = errors.New("unknown signature mechanism")
	ErrUnknownAEAD         = errors.New("unknown AEAD token")
	ErrMechanismUnlinkable = errors.New("mechanism has no linkable implementation in this build")
	ErrInvalidKeySize      = errors.New("invalid key size for AEAD")
)
