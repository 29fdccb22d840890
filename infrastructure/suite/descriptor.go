package suite

// Descriptor is an immutable description of one cipher suite: the KEM and
// signature mechanisms used during the handshake, the AEAD protecting the
// datagram flow, and the four bytes identifying the KEM/signature pair on
// the wire. Descriptors are compared by ID only.
type Descriptor struct {
	ID        string
	KEMName   string
	SigName   string
	AEADToken string
	KDF       string
	NISTLevel string

	// Lowercase component tokens as they appear inside the canonical ID;
	// key files on disk are named after the signature token.
	KEMToken string
	SigToken string

	// Wire identifiers carried in every framing header. Two suites share
	// the same tuple iff they share KEM and signature mechanisms.
	KEMID    uint8
	KEMParam uint8
	SigID    uint8
	SigParam uint8
}

// HeaderIDs returns the four header bytes for the descriptor.
func (d Descriptor) HeaderIDs() (kemID, kemParam, sigID, sigParam uint8) {
	return d.KEMID, d.KEMParam, d.SigID, d.SigParam
}

// Equal reports whether two descriptors denote the same suite.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.ID == other.ID
}
