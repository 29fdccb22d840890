package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"pqproxy/application"
	"pqproxy/infrastructure/handshake"
	"pqproxy/infrastructure/network"
	"pqproxy/infrastructure/rekey"
	"pqproxy/infrastructure/session"
)

// HandshakeServer accepts inbound handshake connections. The first
// successful handshake establishes epoch 0; every later connection is a
// peer-initiated rekey. A failed initial handshake is fatal; failed rekeys
// leave the old epoch active.
type HandshakeServer struct {
	engine       *handshake.Engine
	supervisor   *session.Supervisor
	machine      *rekey.Machine
	logger       application.Logger
	keepPrevious bool

	// Established is closed once epoch 0 is installed.
	established chan struct{}
}

func NewHandshakeServer(
	engine *handshake.Engine,
	supervisor *session.Supervisor,
	machine *rekey.Machine,
	logger application.Logger,
	keepPrevious bool,
) *HandshakeServer {
	return &HandshakeServer{
		engine:       engine,
		supervisor:   supervisor,
		machine:      machine,
		logger:       logger,
		keepPrevious: keepPrevious,
		established:  make(chan struct{}),
	}
}

// Established is closed once the initial handshake has installed epoch 0.
func (s *HandshakeServer) Established() <-chan struct{} {
	return s.established
}

// Serve accepts connections until the context is cancelled or the initial
// handshake fails. Closing the listener unblocks Accept during shutdown.
func (s *HandshakeServer) Serve(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handshake accept: %v", err)
		}

		if s.supervisor.Active() == nil {
			// Initial bring-up runs inline: nothing else can proceed
			// without epoch 0, and a failure is fatal.
			if err := s.initial(conn); err != nil {
				return err
			}
			continue
		}
		go s.inboundRekey(conn)
	}
}

func (s *HandshakeServer) initial(conn net.Conn) error {
	defer conn.Close()

	s.supervisor.SetState(session.StateHandshaking)
	result, err := s.engine.Respond(conn, 0)
	if err != nil {
		s.supervisor.SetError(err.Error())
		return fmt.Errorf("initial handshake: %w", err)
	}

	s.supervisor.Install(&session.Epoch{
		Number:   0,
		Suite:    result.Suite,
		Sender:   result.Sender,
		Receiver: result.Receiver,
	}, false)
	s.supervisor.SetState(session.StateHandshakeOK)
	s.supervisor.SetState(session.StateRunning)
	s.logger.Printf("session established: suite %s session %x", result.Suite.ID, result.SessionID)
	close(s.established)
	return nil
}

// inboundRekey answers a peer-initiated rekey: respond to the fresh
// handshake, wait for the sealed commit, reply committed, then pivot.
func (s *HandshakeServer) inboundRekey(conn net.Conn) {
	defer conn.Close()

	old := s.supervisor.Active()
	newEpoch := old.Number + 1

	if err := s.machine.Begin(newEpoch, ""); err != nil {
		s.logger.Printf("inbound rekey refused: %v", err)
		return
	}
	s.supervisor.SetState(session.StateRekeying)

	result, err := s.engine.Respond(conn, newEpoch)
	if err != nil {
		s.fail(fmt.Sprintf("rekey handshake: %v", err))
		return
	}
	s.supervisor.SetRekeyTarget(result.Suite.ID)
	if err := s.machine.NegotiationSucceeded(); err != nil {
		s.fail(err.Error())
		return
	}

	fc := network.NewFramedConn(conn, CommitTimeout, maxControlFrame)
	frame, err := fc.ReadFrame()
	if err != nil {
		s.fail(fmt.Sprintf("await commit: %v", err))
		return
	}
	if err := openCommitMessage(old, frame, opCommit, newEpoch); err != nil {
		s.fail(err.Error())
		return
	}
	sealed, err := sealCommitMessage(old, opCommitted, newEpoch)
	if err != nil {
		s.fail(err.Error())
		return
	}
	if err := fc.WriteFrame(sealed); err != nil {
		s.fail(fmt.Sprintf("send committed: %v", err))
		return
	}

	if _, _, err := s.machine.Commit(); err != nil {
		s.fail(err.Error())
		return
	}
	s.supervisor.Counters().AddRekeyOK(result.Suite.ID)
	s.supervisor.Install(&session.Epoch{
		Number:   newEpoch,
		Suite:    result.Suite,
		Sender:   result.Sender,
		Receiver: result.Receiver,
	}, s.keepPrevious)
	s.supervisor.SetState(session.StateRekeyOK)
	s.logger.Printf("peer rekey complete: epoch %d suite %s", newEpoch, result.Suite.ID)
}

func (s *HandshakeServer) fail(reason string) {
	s.machine.Fail(reason)
	s.supervisor.Counters().AddRekeyFail()
	s.supervisor.SetError(reason)
	s.supervisor.SetState(session.StateRekeyFail)
	s.logger.Printf("inbound rekey failed: %s", reason)
}

// HandleControl consumes control-typed plaintext surfaced by the dataplane
// when packet classification is enabled. The commit exchange itself runs
// over the rekey TCP connection; typed datagrams are an auxiliary signal.
func (s *HandshakeServer) HandleControl(payload []byte) {
	var msg commitMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Printf("unparseable control packet: %v", err)
		return
	}
	s.logger.Printf("control packet: op %q epoch %d", msg.Op, msg.Epoch)
}
