package presentation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"pqproxy/application"
	"pqproxy/infrastructure/control"
	"pqproxy/infrastructure/controlplane"
	"pqproxy/infrastructure/dataplane"
	"pqproxy/infrastructure/handshake"
	"pqproxy/infrastructure/listeners/tcp_listener"
	"pqproxy/infrastructure/listeners/udp_listener"
	"pqproxy/infrastructure/rekey"
	"pqproxy/infrastructure/session"
	"pqproxy/infrastructure/suite"
	"pqproxy/settings"
)

// ErrHandshake marks a failed initial handshake: no traffic ever flowed.
var ErrHandshake = errors.New("initial handshake failed")

// ProxyRunner wires the core together for one proxy process: suite registry,
// handshake engine, session supervisor, both dataplane pipelines, the
// handshake listener and the control channel.
type ProxyRunner struct {
	conf   *settings.Settings
	logger application.Logger
}

func NewProxyRunner(conf *settings.Settings, logger application.Logger) *ProxyRunner {
	return &ProxyRunner{
		conf:   conf,
		logger: logger,
	}
}

// Run brings the proxy up and blocks until the context is cancelled, a
// fatal error occurs, or the control channel receives a stop request.
func (p *ProxyRunner) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One failed worker cancels the group context and, through the cleanup
	// hook below, unblocks every other worker's syscall.
	g, gctx := errgroup.WithContext(runCtx)

	registry := suite.NewRegistry()
	role := session.RoleGCS
	if p.conf.Role == settings.Drone {
		role = session.RoleDrone
	}

	supervisor := session.NewSupervisor(role, p.logger)
	writer := session.NewStatusWriter(p.conf.StatusFilePath, p.conf.SummaryFilePath, p.logger)
	supervisor.OnStatusChange(writer.Write)

	machine := rekey.NewMachine()
	engine := handshake.NewEngine(
		registry,
		handshake.NewKeyStore(p.conf.LocalSigSecretKeyPath),
		handshake.NewKeyStore(p.conf.PeerSigPublicKeyPath),
		p.logger,
		p.conf.ReplayWindow,
	)
	hsServer := controlplane.NewHandshakeServer(engine, supervisor, machine, p.logger, p.conf.RetainPreviousEpoch)

	dial := func(dialCtx context.Context) (net.Conn, error) {
		var dialer net.Dialer
		return dialer.DialContext(dialCtx, "tcp", p.conf.PeerHandshakeAddr())
	}
	initiator := controlplane.NewRekeyInitiator(engine, supervisor, machine, dial, p.logger, p.conf.RetainPreviousEpoch)

	// Sockets. The ciphertext socket carries both directions so the peer's
	// learned address is also where our ciphertext originates.
	hsListener, err := tcp_listener.NewTcpListener(p.conf.HandshakeBindAddr()).ListenTCP()
	if err != nil {
		return fmt.Errorf("handshake listener: %w", err)
	}
	controlListener, err := tcp_listener.NewTcpListener(p.conf.ControlAddr()).ListenTCP()
	if err != nil {
		_ = hsListener.Close()
		return fmt.Errorf("control listener: %w", err)
	}
	plaintextConn, err := udp_listener.NewUdpListener(p.conf.PlaintextIngressAddr()).ListenUDP()
	if err != nil {
		_ = hsListener.Close()
		_ = controlListener.Close()
		return fmt.Errorf("plaintext socket: %w", err)
	}
	ciphertextConn, err := udp_listener.NewUdpListener(p.conf.CiphertextIngressAddr()).ListenUDP()
	if err != nil {
		_ = hsListener.Close()
		_ = controlListener.Close()
		_ = plaintextConn.Close()
		return fmt.Errorf("ciphertext socket: %w", err)
	}

	// Closing the sockets is what unblocks the workers during shutdown.
	closeAll := func() {
		_ = hsListener.Close()
		_ = controlListener.Close()
		_ = plaintextConn.Close()
		_ = ciphertextConn.Close()
	}
	stopCleanup := context.AfterFunc(gctx, func() {
		supervisor.SetState(session.StateStopping)
		closeAll()
	})
	defer func() {
		if stopCleanup() {
			closeAll()
		}
	}()

	egressAddr, err := p.conf.PlaintextEgressAddr()
	if err != nil {
		return fmt.Errorf("plaintext egress: %w", err)
	}
	tracker := dataplane.NewPeerTracker(p.conf.StrictUDPPeerMatch)
	if seed, ok := p.conf.PeerCiphertextAddr(); ok {
		tracker.Seed(seed)
	}

	plaintextHandler := dataplane.NewPlaintextHandler(
		gctx, plaintextConn, ciphertextConn,
		supervisor, tracker, supervisor.Counters(), p.logger, p.conf.EnablePacketType,
	)
	ciphertextHandler := dataplane.NewCiphertextHandler(
		gctx, ciphertextConn, plaintextConn, egressAddr,
		supervisor, tracker, supervisor.Counters(), hsServer, p.logger, p.conf.EnablePacketType,
	)

	controlServer := control.NewServer(&commander{
		supervisor: supervisor,
		initiator:  initiator,
		stop:       cancel,
	}, p.logger)

	g.Go(func() error {
		if err := hsServer.Serve(gctx, hsListener); err != nil {
			if supervisor.Active() == nil {
				return fmt.Errorf("%w: %v", ErrHandshake, err)
			}
			return err
		}
		return nil
	})
	g.Go(plaintextHandler.Handle)
	g.Go(ciphertextHandler.Handle)
	g.Go(func() error {
		return controlServer.Serve(gctx, controlListener)
	})

	if role == session.RoleDrone {
		g.Go(func() error {
			return p.initiateSession(gctx, engine, supervisor)
		})
	}
	if p.conf.RekeySeconds > 0 {
		g.Go(func() error {
			p.timerRekeys(gctx, supervisor, machine, initiator)
			return nil
		})
	}

	err = g.Wait()
	if err != nil && runCtx.Err() != nil && !errors.Is(err, ErrHandshake) {
		// Cancellation-induced socket errors are a normal shutdown.
		err = nil
	}
	return err
}

// initiateSession performs the drone-side initial handshake for epoch 0.
func (p *ProxyRunner) initiateSession(ctx context.Context, engine *handshake.Engine, supervisor *session.Supervisor) error {
	supervisor.SetState(session.StateHandshaking)

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", p.conf.PeerHandshakeAddr())
	if err != nil {
		supervisor.SetError(err.Error())
		return fmt.Errorf("%w: dial: %v", ErrHandshake, err)
	}
	defer conn.Close()

	result, err := engine.Initiate(conn, []string{p.conf.InitialSuiteID}, 0)
	if err != nil {
		supervisor.SetError(err.Error())
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	supervisor.Install(&session.Epoch{
		Number:   0,
		Suite:    result.Suite,
		Sender:   result.Sender,
		Receiver: result.Receiver,
	}, false)
	supervisor.SetState(session.StateHandshakeOK)
	supervisor.SetState(session.StateRunning)
	p.logger.Printf("session established: suite %s session %x", result.Suite.ID, result.SessionID)
	return nil
}

// timerRekeys re-negotiates the active suite on the configured interval.
func (p *ProxyRunner) timerRekeys(
	ctx context.Context,
	supervisor *session.Supervisor,
	machine *rekey.Machine,
	initiator *controlplane.RekeyInitiator,
) {
	ticker := time.NewTicker(time.Duration(p.conf.RekeySeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := supervisor.Active()
			if active == nil || machine.State() != rekey.StateActive {
				continue
			}
			if err := initiator.Rekey(ctx, active.Suite.ID); err != nil {
				p.logger.Printf("timer rekey: %v", err)
			}
		}
	}
}

// commander adapts the running proxy to the control channel.
type commander struct {
	supervisor *session.Supervisor
	initiator  *controlplane.RekeyInitiator
	stop       context.CancelFunc
}

func (c *commander) Status() session.Status {
	return c.supervisor.Status()
}

func (c *commander) Rekey(ctx context.Context, suiteID string) error {
	return c.initiator.Rekey(ctx, suiteID)
}

func (c *commander) Stop() {
	c.stop()
}
