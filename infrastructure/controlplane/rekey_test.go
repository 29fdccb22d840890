package controlplane

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pqproxy/infrastructure/cryptography/datagram"
	"pqproxy/infrastructure/cryptography/primitives"
	"pqproxy/infrastructure/handshake"
	"pqproxy/infrastructure/logging"
	"pqproxy/infrastructure/rekey"
	"pqproxy/infrastructure/session"
	"pqproxy/infrastructure/suite"
)

func writeKeyPair(t *testing.T, dir string) {
	t.Helper()

	scheme, err := primitives.SignatureByName("ML-DSA-65")
	if err != nil {
		t.Fatalf("ML-DSA-65 unavailable: %v", err)
	}
	pub, priv, err := scheme.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()
	if err := os.WriteFile(filepath.Join(dir, "mldsa65.pub"), pubBytes, 0o600); err != nil {
		t.Fatalf("write pub: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mldsa65.key"), privBytes, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	// The rekey target suite uses ML-DSA-87; distribute a key for it too.
	scheme87, err := primitives.SignatureByName("ML-DSA-87")
	if err != nil {
		t.Fatalf("ML-DSA-87 unavailable: %v", err)
	}
	pub87, priv87, err := scheme87.GenerateKey()
	if err != nil {
		t.Fatalf("keygen 87: %v", err)
	}
	pub87Bytes, _ := pub87.MarshalBinary()
	priv87Bytes, _ := priv87.MarshalBinary()
	if err := os.WriteFile(filepath.Join(dir, "mldsa87.pub"), pub87Bytes, 0o600); err != nil {
		t.Fatalf("write pub87: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mldsa87.key"), priv87Bytes, 0o600); err != nil {
		t.Fatalf("write key87: %v", err)
	}
}

type testStack struct {
	engine     *handshake.Engine
	supervisor *session.Supervisor
	machine    *rekey.Machine
}

// buildStacks establishes epoch 0 on both ends and returns the two stacks
// plus the GCS handshake listener address for rekeys.
func buildStacks(t *testing.T) (gcs, drone *testStack, gcsAddr string) {
	t.Helper()

	registry := suite.NewRegistry()
	logger := logging.NewLogLogger()

	gcsDir := t.TempDir()
	writeKeyPair(t, gcsDir)
	gcsKeys := handshake.NewKeyStore(gcsDir)

	droneEngine := handshake.NewEngine(registry, handshake.NewKeyStore(t.TempDir()), gcsKeys, logger, datagram.DefaultWindowSize)
	gcsEngine := handshake.NewEngine(registry, gcsKeys, handshake.NewKeyStore(t.TempDir()), logger, datagram.DefaultWindowSize)

	gcs = &testStack{engine: gcsEngine, supervisor: session.NewSupervisor(session.RoleGCS, logger), machine: rekey.NewMachine()}
	drone = &testStack{engine: droneEngine, supervisor: session.NewSupervisor(session.RoleDrone, logger), machine: rekey.NewMachine()}

	// Initial handshake over an in-memory pipe.
	clientConn, serverConn := net.Pipe()
	type outcome struct {
		result *handshake.Result
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := gcsEngine.Respond(serverConn, 0)
		ch <- outcome{result, err}
	}()
	droneResult, err := droneEngine.Initiate(clientConn, []string{"cs-mlkem768-aesgcm-mldsa65"}, 0)
	if err != nil {
		t.Fatalf("initial handshake (drone): %v", err)
	}
	gcsOutcome := <-ch
	if gcsOutcome.err != nil {
		t.Fatalf("initial handshake (gcs): %v", gcsOutcome.err)
	}
	clientConn.Close()
	serverConn.Close()

	install := func(s *testStack, r *handshake.Result) {
		s.supervisor.Install(&session.Epoch{
			Number:   0,
			Suite:    r.Suite,
			Sender:   r.Sender,
			Receiver: r.Receiver,
		}, false)
		s.supervisor.SetState(session.StateRunning)
	}
	install(gcs, gcsOutcome.result)
	install(drone, droneResult)

	// GCS listens for rekey handshakes.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = listener.Close()
	})
	server := NewHandshakeServer(gcsEngine, gcs.supervisor, gcs.machine, logger, false)
	go func() { _ = server.Serve(ctx, listener) }()

	return gcs, drone, listener.Addr().String()
}

func dialerTo(addr string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

func waitForEpoch(t *testing.T, s *session.Supervisor, want uint8) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if epoch, ok := s.ActiveEpoch(); ok && epoch == want {
			return
		}
		if time.Now().After(deadline) {
			epoch, _ := s.ActiveEpoch()
			t.Fatalf("epoch %d never became active (at %d)", want, epoch)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRekeyPivotsBothSides(t *testing.T) {
	gcs, drone, gcsAddr := buildStacks(t)
	logger := logging.NewLogLogger()

	initiator := NewRekeyInitiator(drone.engine, drone.supervisor, drone.machine, dialerTo(gcsAddr), logger, false)
	if err := initiator.Rekey(context.Background(), "cs-mlkem1024-aesgcm-mldsa87"); err != nil {
		t.Fatalf("rekey failed: %v", err)
	}

	waitForEpoch(t, drone.supervisor, 1)
	waitForEpoch(t, gcs.supervisor, 1)

	if got := drone.supervisor.Active().Suite.ID; got != "cs-mlkem1024-aesgcm-mldsa87" {
		t.Fatalf("drone active suite %s", got)
	}
	if got := gcs.supervisor.Counters().Snapshot(); got.RekeysOK != 1 || got.RekeysFail != 0 {
		t.Fatalf("gcs counters %+v", got)
	}
	if got := drone.supervisor.Counters().Snapshot(); got.RekeysOK != 1 || got.LastRekeySuite != "cs-mlkem1024-aesgcm-mldsa87" {
		t.Fatalf("drone counters %+v", got)
	}

	// Fresh traffic flows under the new epoch in both directions.
	sealed, err := drone.supervisor.Active().Sender.Encrypt([]byte("post-rekey"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, rejection := gcs.supervisor.Active().Receiver.Decrypt(sealed)
	if rejection != nil || !bytes.Equal(opened, []byte("post-rekey")) {
		t.Fatalf("new-epoch traffic rejected: %v", rejection)
	}

	// Sequence counters restarted for the new epoch: the first datagram
	// above used seq 1 because the confirmation ping used seq 0.
	if drone.supervisor.Active().Sender.Seq() != 2 {
		t.Fatalf("unexpected seq %d", drone.supervisor.Active().Sender.Seq())
	}

	// Both state machines returned to active.
	if gcsState := gcs.machine.State(); gcsState != rekey.StateActive {
		t.Fatalf("gcs machine state %s", gcsState)
	}
	if droneState := drone.machine.State(); droneState != rekey.StateActive {
		t.Fatalf("drone machine state %s", droneState)
	}
}

func TestFailedRekeyKeepsOldEpoch(t *testing.T) {
	gcs, drone, gcsAddr := buildStacks(t)
	logger := logging.NewLogLogger()

	initiator := NewRekeyInitiator(drone.engine, drone.supervisor, drone.machine, dialerTo(gcsAddr), logger, false)

	// Falcon has no linkable implementation in this build; the rekey must
	// fail before anything reaches the peer.
	err := initiator.Rekey(context.Background(), "cs-mlkem512-aesgcm-falcon512")
	if err == nil {
		t.Fatal("rekey to an unusable suite must fail")
	}

	if epoch, _ := drone.supervisor.ActiveEpoch(); epoch != 0 {
		t.Fatalf("old epoch must stay active, got %d", epoch)
	}
	counters := drone.supervisor.Counters().Snapshot()
	if counters.RekeysFail != 1 || counters.RekeysOK != 0 {
		t.Fatalf("counters %+v", counters)
	}
	status := drone.supervisor.Status()
	if status.State != session.StateRekeyFail || status.ErrorReason == "" {
		t.Fatalf("status %+v", status)
	}

	// Old-epoch traffic continues uninterrupted.
	sealed, err := drone.supervisor.Active().Sender.Encrypt([]byte("still epoch 0"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, rejection := gcs.supervisor.Active().Receiver.Decrypt(sealed)
	if rejection != nil || !bytes.Equal(opened, []byte("still epoch 0")) {
		t.Fatalf("old-epoch traffic rejected: %v", rejection)
	}

	// The machine is free for the next attempt.
	if drone.machine.State() != rekey.StateActive {
		t.Fatalf("machine stuck in %s", drone.machine.State())
	}
	if err := initiator.Rekey(context.Background(), "cs-mlkem768-chacha20poly1305-mldsa65"); err != nil {
		t.Fatalf("follow-up rekey failed: %v", err)
	}
	waitForEpoch(t, drone.supervisor, 1)
}

func TestUnknownSuiteRekeyFailsCleanly(t *testing.T) {
	_, drone, gcsAddr := buildStacks(t)
	logger := logging.NewLogLogger()

	initiator := NewRekeyInitiator(drone.engine, drone.supervisor, drone.machine, dialerTo(gcsAddr), logger, false)
	if err := initiator.Rekey(context.Background(), "cs-made-up-suite"); err == nil {
		t.Fatal("unknown suite must fail")
	}
	if epoch, _ := drone.supervisor.ActiveEpoch(); epoch != 0 {
		t.Fatalf("old epoch must stay active, got %d", epoch)
	}
}
