package primitives

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mceliece/mceliece348864"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// kemMechanisms maps registry mechanism names to their linked schemes.
// A KEM absent from this map is unknown.
var kemMechanisms = map[string]kem.Scheme{
	"ML-KEM-512":              mlkem512.Scheme(),
	"ML-KEM-768":              mlkem768.Scheme(),
	"ML-KEM-1024":             mlkem1024.Scheme(),
	"Classic-McEliece-348864": mceliece348864.Scheme(),
}

// KEMByName resolves a key encapsulation mechanism by its registry name.
func KEMByName(name string) (kem.Scheme, error) {
	scheme, ok := kemMechanisms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKEM, name)
	}
	if scheme == nil {
		return nil, fmt.Errorf("%w: %s", ErrMechanismUnlinkable, name)
	}
	return scheme, nil
}

// KEMAvailable reports whether the named KEM can be instantiated.
func KEMAvailable(name string) bool {
	_, err := KEMByName(name)
	return err == nil
}
