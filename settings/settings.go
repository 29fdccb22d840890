package settings

import (
	"fmt"
	"net"
	"net/netip"

	"pqproxy/infrastructure/cryptography/datagram"
	"pqproxy/infrastructure/wire"
)

// AllowNonLoopbackEnv is the explicit override required to bind plaintext
// sockets outside loopback.
const AllowNonLoopbackEnv = "PQPROXY_ALLOW_NONLOOPBACK_PLAINTEXT"

// Settings is the full configuration contract consumed by the core. It is
// loaded from a JSON file by the Manager and validated before the proxy
// starts.
type Settings struct {
	Role Role `json:"Role"`

	// WireVersion is frozen at 1; zero means default.
	WireVersion uint8 `json:"WireVersion"`

	// ReplayWindow is the receiver window in packets, within [64, 8192].
	ReplayWindow int `json:"ReplayWindow"`

	// RekeySeconds schedules automatic rekeys; 0 disables the timer.
	RekeySeconds int `json:"RekeySeconds"`

	EnablePacketType   bool `json:"EnablePacketType"`
	StrictUDPPeerMatch bool `json:"StrictUDPPeerMatch"`

	// RetainPreviousEpoch keeps the superseded epoch's receiver alive to
	// drain reordered datagrams around a rekey pivot.
	RetainPreviousEpoch bool `json:"RetainPreviousEpoch"`

	// Local handshake listener (both roles accept in-session rekeys).
	HandshakeBindHost string `json:"HandshakeBindHost"`
	HandshakeBindPort uint16 `json:"HandshakeBindPort"`

	// Peer endpoints.
	PeerHost           string `json:"PeerHost"`
	PeerHandshakePort  uint16 `json:"PeerHandshakePort"`
	PeerCiphertextPort uint16 `json:"PeerCiphertextPort"`

	// Local UDP sockets. Plaintext binds are loopback-only unless the
	// override environment variable is set.
	PlaintextIngressHost  string `json:"PlaintextIngressHost"`
	PlaintextIngressPort  uint16 `json:"PlaintextIngressPort"`
	PlaintextEgressHost   string `json:"PlaintextEgressHost"`
	PlaintextEgressPort   uint16 `json:"PlaintextEgressPort"`
	CiphertextIngressPort uint16 `json:"CiphertextIngressPort"`

	// Control channel, loopback TCP.
	ControlPort uint16 `json:"ControlPort"`

	// Pre-distributed long-term signature keys: a per-suite directory or a
	// single raw key file.
	PeerSigPublicKeyPath  string `json:"PeerSigPublicKeyPath"`
	LocalSigSecretKeyPath string `json:"LocalSigSecretKeyPath"`

	InitialSuiteID string `json:"InitialSuiteID"`

	// Persisted snapshots; empty paths disable them.
	StatusFilePath  string `json:"StatusFilePath"`
	SummaryFilePath string `json:"SummaryFilePath"`
}

// applyDefaults fills zero values that have non-zero defaults.
func (s *Settings) applyDefaults() {
	if s.WireVersion == 0 {
		s.WireVersion = wire.Version
	}
	if s.ReplayWindow == 0 {
		s.ReplayWindow = datagram.DefaultWindowSize
	}
	if s.HandshakeBindHost == "" {
		s.HandshakeBindHost = "0.0.0.0"
	}
	if s.PlaintextIngressHost == "" {
		s.PlaintextIngressHost = "127.0.0.1"
	}
	if s.PlaintextEgressHost == "" {
		s.PlaintextEgressHost = "127.0.0.1"
	}
}

// Validate checks the contract. allowNonLoopback reflects the explicit
// override environment variable.
func (s *Settings) Validate(allowNonLoopback bool) error {
	if s.WireVersion != wire.Version {
		return fmt.Errorf("WireVersion must be %d, got %d", wire.Version, s.WireVersion)
	}
	if s.ReplayWindow < datagram.MinWindowSize || s.ReplayWindow > datagram.MaxWindowSize {
		return fmt.Errorf("ReplayWindow %d outside [%d, %d]", s.ReplayWindow, datagram.MinWindowSize, datagram.MaxWindowSize)
	}
	if s.RekeySeconds < 0 {
		return fmt.Errorf("RekeySeconds must be >= 0, got %d", s.RekeySeconds)
	}
	if s.InitialSuiteID == "" {
		return fmt.Errorf("InitialSuiteID is required")
	}
	if s.PeerSigPublicKeyPath == "" {
		return fmt.Errorf("PeerSigPublicKeyPath is required")
	}
	if s.Role == GCS && s.LocalSigSecretKeyPath == "" {
		return fmt.Errorf("LocalSigSecretKeyPath is required for the gcs role")
	}
	if s.Role == Drone && s.PeerHost == "" {
		return fmt.Errorf("PeerHost is required for the drone role")
	}
	if s.Role == Drone && s.PeerHandshakePort == 0 {
		return fmt.Errorf("PeerHandshakePort is required for the drone role")
	}
	for name, port := range map[string]uint16{
		"HandshakeBindPort":     s.HandshakeBindPort,
		"PlaintextIngressPort":  s.PlaintextIngressPort,
		"PlaintextEgressPort":   s.PlaintextEgressPort,
		"CiphertextIngressPort": s.CiphertextIngressPort,
		"ControlPort":           s.ControlPort,
	} {
		if port == 0 {
			return fmt.Errorf("%s is required", name)
		}
	}

	if !allowNonLoopback {
		for name, host := range map[string]string{
			"PlaintextIngressHost": s.PlaintextIngressHost,
			"PlaintextEgressHost":  s.PlaintextEgressHost,
		} {
			if !isLoopbackHost(host) {
				return fmt.Errorf("%s %q is not loopback; set %s=1 to override", name, host, AllowNonLoopbackEnv)
			}
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return addr.IsLoopback()
}

// PlaintextIngressAddr returns the bind address for the plaintext ingress
// socket.
func (s *Settings) PlaintextIngressAddr() string {
	return net.JoinHostPort(s.PlaintextIngressHost, fmt.Sprint(s.PlaintextIngressPort))
}

// PlaintextEgressAddr returns the destination for decrypted datagrams.
func (s *Settings) PlaintextEgressAddr() (netip.AddrPort, error) {
	host := s.PlaintextEgressHost
	if host == "localhost" {
		host = "127.0.0.1"
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("PlaintextEgressHost: %w", err)
	}
	return netip.AddrPortFrom(addr, s.PlaintextEgressPort), nil
}

// CiphertextIngressAddr returns the bind address for the encrypted ingress
// socket (any interface).
func (s *Settings) CiphertextIngressAddr() string {
	return fmt.Sprintf(":%d", s.CiphertextIngressPort)
}

// HandshakeBindAddr returns the local handshake listener address.
func (s *Settings) HandshakeBindAddr() string {
	return net.JoinHostPort(s.HandshakeBindHost, fmt.Sprint(s.HandshakeBindPort))
}

// PeerHandshakeAddr returns the dial target for outbound handshakes.
func (s *Settings) PeerHandshakeAddr() string {
	return net.JoinHostPort(s.PeerHost, fmt.Sprint(s.PeerHandshakePort))
}

// ControlAddr returns the loopback control channel listener address.
func (s *Settings) ControlAddr() string {
	return net.JoinHostPort("127.0.0.1", fmt.Sprint(s.ControlPort))
}

// PeerCiphertextAddr returns the seed peer address for the ciphertext
// egress, when configured; ok is false otherwise.
func (s *Settings) PeerCiphertextAddr() (netip.AddrPort, bool) {
	if s.PeerHost == "" || s.PeerCiphertextPort == 0 {
		return netip.AddrPort{}, false
	}
	host := s.PeerHost
	if host == "localhost" {
		host = "127.0.0.1"
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// Hostnames are resolved lazily by the dialer; the ciphertext
		// seed requires a literal address.
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, s.PeerCiphertextPort), true
}
