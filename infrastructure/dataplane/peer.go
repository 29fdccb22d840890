package dataplane

import (
	"net/netip"
	"sync/atomic"
)

// PeerTracker holds the peer's UDP address for the ciphertext egress. The
// address is either seeded from configuration (the initiator knows where the
// responder listens) or learned from the first authenticated datagram. With
// strict matching enabled, inbound ciphertext from any other source is
// dropped before decryption.
type PeerTracker struct {
	strict bool
	addr   atomic.Pointer[netip.AddrPort]
}

func NewPeerTracker(strict bool) *PeerTracker {
	return &PeerTracker{strict: strict}
}

// Seed sets the initial peer address, if known. A zero address is ignored.
func (p *PeerTracker) Seed(addr netip.AddrPort) {
	if !addr.IsValid() {
		return
	}
	p.addr.Store(&addr)
}

// Learn records the source of an authenticated datagram as the peer
// address. Only authenticated traffic may move the address.
func (p *PeerTracker) Learn(addr netip.AddrPort) {
	current := p.addr.Load()
	if current != nil && *current == addr {
		return
	}
	p.addr.Store(&addr)
}

// Current returns the peer address; ok is false while unlearned.
func (p *PeerTracker) Current() (netip.AddrPort, bool) {
	current := p.addr.Load()
	if current == nil {
		return netip.AddrPort{}, false
	}
	return *current, true
}

// Allow reports whether inbound ciphertext from src passes the strict-peer
// gate. Without strict matching, or before any peer is known, everything is
// allowed through to authentication.
func (p *PeerTracker) Allow(src netip.AddrPort) bool {
	if !p.strict {
		return true
	}
	current := p.addr.Load()
	if current == nil {
		return true
	}
	return *current == src
}
