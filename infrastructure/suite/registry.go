package suite

import (
	"fmt"
	"sort"
	"strings"

	"pqproxy/infrastructure/cryptography/primitives"
)

type kemAxis struct {
	token     string
	name      string
	id, param uint8
	nistLevel string
}

type sigAxis struct {
	token     string
	name      string
	id, param uint8
}

// The catalog axes. Tokens appear in canonical suite IDs; names are the
// mechanism names handed to the primitives layer. Header byte assignments
// are part of the wire protocol and must never be renumbered.
var (
	kemAxes = []kemAxis{
		{token: "mlkem512", name: "ML-KEM-512", id: 1, param: 1, nistLevel: "L1"},
		{token: "mlkem768", name: "ML-KEM-768", id: 1, param: 2, nistLevel: "L3"},
		{token: "mlkem1024", name: "ML-KEM-1024", id: 1, param: 3, nistLevel: "L5"},
		{token: "mceliece348864", name: "Classic-McEliece-348864", id: 3, param: 1, nistLevel: "L1"},
	}

	sigAxes = []sigAxis{
		{token: "mldsa44", name: "ML-DSA-44", id: 1, param: 1},
		{token: "mldsa65", name: "ML-DSA-65", id: 1, param: 2},
		{token: "mldsa87", name: "ML-DSA-87", id: 1, param: 3},
		{token: "falcon512", name: "Falcon-512", id: 2, param: 1},
		{token: "falcon1024", name: "Falcon-1024", id: 2, param: 2},
		{token: "sphincs128fsha2", name: "SPHINCS+-SHA2-128f", id: 3, param: 1},
		{token: "sphincs256fsha2", name: "SPHINCS+-SHA2-256f", id: 3, param: 2},
	}

	aeadTokens = []string{
		primitives.AEADTokenAESGCM,
		primitives.AEADTokenChaCha20Poly1305,
		primitives.AEADTokenAscon128,
	}

	// Legacy component names accepted in suite IDs and resolved to
	// canonical tokens at lookup.
	legacyComponents = map[string]string{
		"kyber512":        "mlkem512",
		"kyber768":        "mlkem768",
		"kyber1024":       "mlkem1024",
		"dilithium2":      "mldsa44",
		"dilithium3":      "mldsa65",
		"dilithium5":      "mldsa87",
		"sphincs128f": "sphincs128fsha2",
		"sphincs256f": "sphincs256fsha2",
	}
)

// Registry is the immutable suite catalog. Construct with NewRegistry and
// share freely; all methods are safe for concurrent use.
type Registry struct {
	byID map[string]Descriptor
}

// NewRegistry builds the full catalog: every KEM/signature pair crossed with
// every AEAD token.
func NewRegistry() *Registry {
	byID := make(map[string]Descriptor)
	for _, k := range kemAxes {
		for _, s := range sigAxes {
			for _, aead := range aeadTokens {
				id := canonicalID(k.token, aead, s.token)
				byID[id] = Descriptor{
					ID:        id,
					KEMName:   k.name,
					SigName:   s.name,
					AEADToken: aead,
					KDF:       "HKDF-SHA256",
					NISTLevel: k.nistLevel,
					KEMToken:  k.token,
					SigToken:  s.token,
					KEMID:     k.id,
					KEMParam:  k.param,
					SigID:     s.id,
					SigParam:  s.param,
				}
			}
		}
	}
	return &Registry{byID: byID}
}

func canonicalID(kemToken, aeadToken, sigToken string) string {
	return fmt.Sprintf("cs-%s-%s-%s", kemToken, aeadToken, sigToken)
}

// Get resolves a suite by canonical ID or legacy alias and returns a copy of
// its descriptor. Unknown IDs fail with ErrUnknownSuite.
func (r *Registry) Get(id string) (Descriptor, error) {
	canonical, ok := r.resolve(id)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownSuite, id)
	}
	return r.byID[canonical], nil
}

// resolve maps an ID or alias to a canonical registered ID.
func (r *Registry) resolve(id string) (string, bool) {
	if _, ok := r.byID[id]; ok {
		return id, true
	}
	parts := strings.Split(id, "-")
	if len(parts) != 4 || parts[0] != "cs" {
		return "", false
	}
	kemToken, aeadToken, sigToken := parts[1], parts[2], parts[3]
	if mapped, ok := legacyComponents[kemToken]; ok {
		kemToken = mapped
	}
	if mapped, ok := legacyComponents[sigToken]; ok {
		sigToken = mapped
	}
	canonical := canonicalID(kemToken, aeadToken, sigToken)
	_, ok := r.byID[canonical]
	return canonical, ok
}

// List returns every canonical suite ID in sorted order.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AvailableAEADTokens returns the AEAD tokens this build can instantiate.
func (r *Registry) AvailableAEADTokens() []string {
	available := make([]string, 0, len(aeadTokens))
	for _, token := range aeadTokens {
		if _, err := primitives.AEADKeySize(token); err == nil {
			available = append(available, token)
		}
	}
	return available
}

// UnavailableAEADReasons maps AEAD tokens that cannot be instantiated to a
// reason string. Empty in this build; kept for parity with the signature
// availability surface.
func (r *Registry) UnavailableAEADReasons() map[string]string {
	reasons := make(map[string]string)
	for _, token := range aeadTokens {
		if _, err := primitives.AEADKeySize(token); err != nil {
			reasons[token] = err.Error()
		}
	}
	return reasons
}

// UnavailableSignatureReasons maps signature mechanism names without a
// linkable implementation to a reason. A suite whose mechanism appears here
// is negotiable on the wire but fails handshakes with UnsupportedSuite.
func (r *Registry) UnavailableSignatureReasons() map[string]string {
	reasons := make(map[string]string)
	for _, s := range sigAxes {
		if reason := primitives.SignatureUnavailableReason(s.name); reason != "" {
			reasons[s.name] = reason
		}
	}
	return reasons
}

// Usable reports whether every primitive of the suite is linkable in this
// build.
func (r *Registry) Usable(d Descriptor) bool {
	if !primitives.KEMAvailable(d.KEMName) {
		return false
	}
	if !primitives.SignatureAvailable(d.SigName) {
		return false
	}
	_, err := primitives.AEADKeySize(d.AEADToken)
	return err == nil
}
