package mem

import "runtime"

// ZeroBytes overwrites b with zeros. Used to wipe shared secrets, derived
// keys and transcript buffers once the handshake no longer needs them.
//
// SECURITY INVARIANT: the wipe must survive compilation. The
// runtime.KeepAlive call keeps b live past the loop so the stores cannot be
// eliminated as dead.
//
// LIMITATION: the runtime may already have moved or copied the backing
// array; this is best-effort hygiene against memory disclosure, not a
// guarantee.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
