package dataplane

import (
	"pqproxy/infrastructure/session"
)

// Packet type tags, carried in the first plaintext byte when classification
// is enabled.
const (
	PacketTypeData    = 0x00
	PacketTypeControl = 0x01
)

// EpochSource yields the datagram pairs the pipelines encrypt and decrypt
// with. Reads must be wait-free; the session supervisor satisfies this with
// an atomic snapshot.
type EpochSource interface {
	Active() *session.Epoch
	Previous() *session.Epoch
}

// ControlSink receives decrypted control-typed plaintext when packet
// classification is enabled.
type ControlSink interface {
	HandleControl(payload []byte)
}

// maxDatagramSize bounds a single UDP read: the largest UDP payload plus
// framing overhead fits comfortably.
const maxDatagramSize = 65535
