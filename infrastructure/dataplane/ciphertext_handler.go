package dataplane

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"pqproxy/application"
	"pqproxy/infrastructure/cryptography/datagram"
	"pqproxy/infrastructure/session"
)

// CiphertextHandler is the wire→plaintext pipeline: inbound ciphertext is
// gated by the strict-peer check, authenticated under the active (or
// grace-retained previous) epoch, then forwarded to the local application.
// Rejections are counted and never surfaced to the peer.
type CiphertextHandler struct {
	ctx        context.Context
	ingress    *net.UDPConn
	egress     *net.UDPConn
	egressAddr netip.AddrPort
	source     EpochSource
	tracker    *PeerTracker
	counters   *session.Counters
	control    ControlSink
	logger     application.Logger
	packetType bool
}

func NewCiphertextHandler(
	ctx context.Context,
	ingress, egress *net.UDPConn,
	egressAddr netip.AddrPort,
	source EpochSource,
	tracker *PeerTracker,
	counters *session.Counters,
	control ControlSink,
	logger application.Logger,
	packetType bool,
) *CiphertextHandler {
	return &CiphertextHandler{
		ctx:        ctx,
		ingress:    ingress,
		egress:     egress,
		egressAddr: egressAddr,
		source:     source,
		tracker:    tracker,
		counters:   counters,
		control:    control,
		logger:     logger,
		packetType: packetType,
	}
}

// Handle runs the pipeline until the context is cancelled. Closing the
// ingress socket unblocks the read during shutdown.
func (h *CiphertextHandler) Handle() error {
	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-h.ctx.Done():
			return nil
		default:
			n, src, readErr := h.ingress.ReadFromUDPAddrPort(buf)
			if readErr != nil {
				if h.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("could not read a ciphertext datagram: %v", readErr)
			}

			if !h.tracker.Allow(src) {
				h.counters.AddDrop()
				continue
			}

			plaintext, ok := h.open(buf[:n])
			if !ok {
				h.counters.AddDrop()
				continue
			}

			// Only authenticated traffic may establish or move the
			// peer address.
			h.tracker.Learn(src)
			h.counters.AddEncIn()

			if h.packetType {
				if len(plaintext) == 0 {
					h.counters.AddDrop()
					continue
				}
				tag, body := plaintext[0], plaintext[1:]
				if tag == PacketTypeControl {
					if h.control != nil {
						h.control.HandleControl(body)
					}
					continue
				}
				plaintext = body
			}

			if _, writeErr := h.egress.WriteToUDPAddrPort(plaintext, h.egressAddr); writeErr != nil {
				if h.ctx.Err() != nil {
					return nil
				}
				h.counters.AddDrop()
				h.logger.Printf("plaintext egress write failed: %v", writeErr)
			}
		}
	}
}

// open authenticates a wire datagram against the active epoch, falling back
// to the grace-retained previous epoch for in-flight traffic around a rekey
// pivot.
func (h *CiphertextHandler) open(wireBytes []byte) ([]byte, bool) {
	epoch := h.source.Active()
	if epoch == nil {
		return nil, false
	}
	plaintext, rejection := epoch.Receiver.Decrypt(wireBytes)
	if rejection == nil {
		return plaintext, true
	}
	if rejection.Kind == datagram.RejectHeaderMismatch {
		if previous := h.source.Previous(); previous != nil {
			if plaintext, rejection = previous.Receiver.Decrypt(wireBytes); rejection == nil {
				return plaintext, true
			}
		}
	}
	return nil, false
}

var _ EpochSource = (*session.Supervisor)(nil)
