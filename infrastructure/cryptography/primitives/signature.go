package primitives

import (
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// sigMechanisms maps registry mechanism names to their linked schemes. A nil
// entry is a known wire identity without a linkable implementation:
// negotiating it fails, advertising it does not.
var sigMechanisms = map[string]sign.Scheme{
	"ML-DSA-44":          mldsa44.Scheme(),
	"ML-DSA-65":          mldsa65.Scheme(),
	"ML-DSA-87":          mldsa87.Scheme(),
	"Falcon-512":         nil,
	"Falcon-1024":        nil,
	"SPHINCS+-SHA2-128f": nil,
	"SPHINCS+-SHA2-256f": nil,
}

// SignatureByName resolves a signature mechanism by its registry name.
func SignatureByName(name string) (sign.Scheme, error) {
	scheme, ok := sigMechanisms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignature, name)
	}
	if scheme == nil {
		return nil, fmt.Errorf("%w: %s", ErrMechanismUnlinkable, name)
	}
	return scheme, nil
}

// SignatureAvailable reports whether the named signature mechanism can be
// instantiated in this build.
func SignatureAvailable(name string) bool {
	_, err := SignatureByName(name)
	return err == nil
}

// SignatureUnavailableReason returns a human-readable reason for a known but
// unlinkable mechanism, or "" when the mechanism is available.
func SignatureUnavailableReason(name string) string {
	scheme, ok := sigMechanisms[name]
	if !ok {
		return "unknown mechanism"
	}
	if scheme == nil {
		return "no implementation linked in this build"
	}
	return ""
}
