package wire

import "errors"

var (
	ErrHeaderLength  = errors.New("framing header too short")
	ErrHeaderVersion = errors.New("unsupported framing header version")
)
