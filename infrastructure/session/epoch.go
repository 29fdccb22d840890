package session

import (
	"pqproxy/infrastructure/cryptography/datagram"
	"pqproxy/infrastructure/suite"
)

// Epoch binds one generation of keys to its datagram pair. Instances are
// immutable once installed; readers obtain the whole tuple through a single
// atomic snapshot so they never observe a mixed view.
type Epoch struct {
	Number   uint8
	Suite    suite.Descriptor
	Sender   *datagram.Sender
	Receiver *datagram.Receiver
}
