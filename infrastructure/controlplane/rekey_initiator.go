package controlplane

import (
	"context"
	"fmt"
	"net"

	"pqproxy/application"
	"pqproxy/infrastructure/handshake"
	"pqproxy/infrastructure/network"
	"pqproxy/infrastructure/rekey"
	"pqproxy/infrastructure/session"
)

// Dialer opens a fresh TCP connection to the peer's handshake port. Every
// rekey runs on its own connection; the initial handshake connection is
// never reused.
type Dialer func(ctx context.Context) (net.Conn, error)

// RekeyInitiator drives operator-requested suite changes: fresh handshake
// advertising only the new suite, commit exchange under the old keys, then
// atomic pivot. UDP keeps flowing under the old epoch for the whole
// negotiation.
type RekeyInitiator struct {
	engine       *handshake.Engine
	supervisor   *session.Supervisor
	machine      *rekey.Machine
	dial         Dialer
	logger       application.Logger
	keepPrevious bool
}

func NewRekeyInitiator(
	engine *handshake.Engine,
	supervisor *session.Supervisor,
	machine *rekey.Machine,
	dial Dialer,
	logger application.Logger,
	keepPrevious bool,
) *RekeyInitiator {
	return &RekeyInitiator{
		engine:       engine,
		supervisor:   supervisor,
		machine:      machine,
		dial:         dial,
		logger:       logger,
		keepPrevious: keepPrevious,
	}
}

// Rekey negotiates suiteID into a new epoch. On any failure the old epoch
// stays active, rekeys_fail increments, and the reason lands in status.
func (r *RekeyInitiator) Rekey(ctx context.Context, suiteID string) error {
	old := r.supervisor.Active()
	if old == nil {
		return fmt.Errorf("no active epoch; session not established")
	}
	newEpoch := old.Number + 1 // wraps at 256 by design

	if err := r.machine.Begin(newEpoch, suiteID); err != nil {
		return err
	}
	r.supervisor.SetRekeyTarget(suiteID)
	r.supervisor.SetState(session.StateRekeying)

	conn, err := r.dial(ctx)
	if err != nil {
		return r.fail(fmt.Sprintf("dial peer: %v", err))
	}
	defer conn.Close()

	result, err := r.engine.Initiate(conn, []string{suiteID}, newEpoch)
	if err != nil {
		return r.fail(fmt.Sprintf("rekey handshake: %v", err))
	}
	if err := r.machine.NegotiationSucceeded(); err != nil {
		return r.fail(err.Error())
	}

	// Commit phase: both directions sealed under the OLD epoch keys.
	fc := network.NewFramedConn(conn, CommitTimeout, maxControlFrame)
	sealed, err := sealCommitMessage(old, opCommit, newEpoch)
	if err != nil {
		return r.fail(err.Error())
	}
	if err := fc.WriteFrame(sealed); err != nil {
		return r.fail(fmt.Sprintf("send commit: %v", err))
	}
	reply, err := fc.ReadFrame()
	if err != nil {
		return r.fail(fmt.Sprintf("await committed: %v", err))
	}
	if err := openCommitMessage(old, reply, opCommitted, newEpoch); err != nil {
		return r.fail(err.Error())
	}

	if _, _, err := r.machine.Commit(); err != nil {
		return r.fail(err.Error())
	}
	r.supervisor.Install(&session.Epoch{
		Number:   newEpoch,
		Suite:    result.Suite,
		Sender:   result.Sender,
		Receiver: result.Receiver,
	}, r.keepPrevious)
	r.supervisor.Counters().AddRekeyOK(result.Suite.ID)
	r.supervisor.SetState(session.StateRekeyOK)
	r.logger.Printf("rekey complete: epoch %d suite %s", newEpoch, result.Suite.ID)
	return nil
}

func (r *RekeyInitiator) fail(reason string) error {
	r.machine.Fail(reason)
	r.supervisor.Counters().AddRekeyFail()
	r.supervisor.SetError(reason)
	r.supervisor.SetState(session.StateRekeyFail)
	r.logger.Printf("rekey failed: %s", reason)
	return fmt.Errorf("rekey failed: %s", reason)
}
