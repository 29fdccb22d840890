package dataplane

import (
	"context"
	"fmt"
	"net"

	"pqproxy/application"
	"pqproxy/infrastructure/session"
)

// PlaintextHandler is the plaintext→wire pipeline: datagrams from the local
// application are sealed under the active epoch and sent to the peer's
// ciphertext ingress.
type PlaintextHandler struct {
	ctx        context.Context
	ingress    *net.UDPConn
	egress     *net.UDPConn
	source     EpochSource
	tracker    *PeerTracker
	counters   *session.Counters
	logger     application.Logger
	packetType bool
}

func NewPlaintextHandler(
	ctx context.Context,
	ingress, egress *net.UDPConn,
	source EpochSource,
	tracker *PeerTracker,
	counters *session.Counters,
	logger application.Logger,
	packetType bool,
) *PlaintextHandler {
	return &PlaintextHandler{
		ctx:        ctx,
		ingress:    ingress,
		egress:     egress,
		source:     source,
		tracker:    tracker,
		counters:   counters,
		logger:     logger,
		packetType: packetType,
	}
}

// Handle runs the pipeline until the context is cancelled. Closing the
// ingress socket unblocks the read during shutdown.
func (h *PlaintextHandler) Handle() error {
	buf := make([]byte, 1+maxDatagramSize)

	for {
		select {
		case <-h.ctx.Done():
			return nil
		default:
			// Reserve the first byte for the optional type tag so
			// classification never copies the payload.
			n, _, readErr := h.ingress.ReadFromUDPAddrPort(buf[1:])
			if readErr != nil {
				if h.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("could not read a plaintext datagram: %v", readErr)
			}

			plaintext := buf[1 : 1+n]
			if h.packetType {
				buf[0] = PacketTypeData
				plaintext = buf[:1+n]
			}

			epoch := h.source.Active()
			if epoch == nil {
				h.counters.AddDrop()
				continue
			}
			peer, known := h.tracker.Current()
			if !known {
				h.counters.AddDrop()
				continue
			}

			wireBytes, encryptErr := epoch.Sender.Encrypt(plaintext)
			if encryptErr != nil {
				if h.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("could not encrypt datagram: %v", encryptErr)
			}

			if _, writeErr := h.egress.WriteToUDPAddrPort(wireBytes, peer); writeErr != nil {
				if h.ctx.Err() != nil {
					return nil
				}
				h.counters.AddDrop()
				h.logger.Printf("ciphertext egress write failed: %v", writeErr)
				continue
			}
			h.counters.AddEncOut()
		}
	}
}
