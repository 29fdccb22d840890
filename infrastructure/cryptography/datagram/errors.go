package datagram

import "errors"

var (
	ErrSequenceExhausted = errors.New("sequence counter exhausted; rekey required")
	ErrWindowSize        = errors.New("replay window size out of range")
)
