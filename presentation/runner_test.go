package presentation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pqproxy/infrastructure/cryptography/primitives"
	"pqproxy/infrastructure/logging"
	"pqproxy/settings"
)

func writeKeyPairs(t *testing.T, dir string) {
	t.Helper()

	for _, name := range []string{"ML-DSA-65", "ML-DSA-87"} {
		scheme, err := primitives.SignatureByName(name)
		if err != nil {
			t.Fatalf("%s unavailable: %v", name, err)
		}
		pub, priv, err := scheme.GenerateKey()
		if err != nil {
			t.Fatalf("keygen %s: %v", name, err)
		}
		pubBytes, _ := pub.MarshalBinary()
		privBytes, _ := priv.MarshalBinary()

		token := map[string]string{"ML-DSA-65": "mldsa65", "ML-DSA-87": "mldsa87"}[name]
		if err := os.WriteFile(filepath.Join(dir, token+".pub"), pubBytes, 0o600); err != nil {
			t.Fatalf("write pub: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, token+".key"), privBytes, 0o600); err != nil {
			t.Fatalf("write key: %v", err)
		}
	}
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("probe udp port: %v", err)
	}
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	_ = conn.Close()
	return port
}

func freeTCPPort(t *testing.T) uint16 {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe tcp port: %v", err)
	}
	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	_ = listener.Close()
	return port
}

func appSocket(t *testing.T) (*net.UDPConn, uint16) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("app socket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func controlRequest(t *testing.T, port uint16, line string) map[string]any {
	t.Helper()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		t.Fatalf("control dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(45 * time.Second))

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		t.Fatalf("control write: %v", err)
	}
	raw, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("control read: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("control response not JSON: %v", err)
	}
	return decoded
}

func waitForState(t *testing.T, controlPort uint16, want string) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", controlPort), 200*time.Millisecond)
		if err == nil {
			_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
			_, _ = fmt.Fprintln(conn, `{"cmd":"status"}`)
			raw, readErr := bufio.NewReader(conn).ReadBytes('\n')
			_ = conn.Close()
			if readErr == nil {
				var status map[string]any
				if json.Unmarshal(raw, &status) == nil && status["state"] == want {
					return
				}
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("state %q never reached on control port %d", want, controlPort)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

type proxyProcess struct {
	conf    *settings.Settings
	cancel  context.CancelFunc
	errChan chan error
}

func startProxy(t *testing.T, conf *settings.Settings) *proxyProcess {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- NewProxyRunner(conf, logging.NewLogLogger()).Run(ctx)
	}()
	t.Cleanup(cancel)
	return &proxyProcess{conf: conf, cancel: cancel, errChan: errChan}
}

func expectDatagram(t *testing.T, conn *net.UDPConn, want []byte, timeout time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 65535)
	n, _, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("expected %q, read failed: %v", want, err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("expected %q, got %q", want, buf[:n])
	}
}

func sendDatagram(t *testing.T, port uint16, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestProxyEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full dual-proxy bring-up")
	}

	keyDir := t.TempDir()
	writeKeyPairs(t, keyDir)

	gcsAppRX, gcsAppPort := appSocket(t)
	droneAppRX, droneAppPort := appSocket(t)

	gcsHS, droneHS := freeTCPPort(t), freeTCPPort(t)
	gcsCtl, droneCtl := freeTCPPort(t), freeTCPPort(t)
	gcsCT, droneCT := freeUDPPort(t), freeUDPPort(t)
	gcsPT, dronePT := freeUDPPort(t), freeUDPPort(t)

	statusDir := t.TempDir()

	gcsConf := &settings.Settings{
		Role:                  settings.GCS,
		HandshakeBindHost:     "127.0.0.1",
		HandshakeBindPort:     gcsHS,
		PeerHost:              "127.0.0.1",
		PeerHandshakePort:     droneHS,
		PlaintextIngressPort:  gcsPT,
		PlaintextEgressPort:   gcsAppPort,
		CiphertextIngressPort: gcsCT,
		ControlPort:           gcsCtl,
		PeerSigPublicKeyPath:  keyDir,
		LocalSigSecretKeyPath: keyDir,
		InitialSuiteID:        "cs-mlkem768-aesgcm-mldsa65",
		StrictUDPPeerMatch:    true,
		StatusFilePath:        filepath.Join(statusDir, "gcs_status.json"),
		SummaryFilePath:       filepath.Join(statusDir, "gcs_summary.json"),
	}
	droneConf := &settings.Settings{
		Role:                  settings.Drone,
		HandshakeBindHost:     "127.0.0.1",
		HandshakeBindPort:     droneHS,
		PeerHost:              "127.0.0.1",
		PeerHandshakePort:     gcsHS,
		PeerCiphertextPort:    gcsCT,
		PlaintextIngressPort:  dronePT,
		PlaintextEgressPort:   droneAppPort,
		CiphertextIngressPort: droneCT,
		ControlPort:           droneCtl,
		PeerSigPublicKeyPath:  keyDir,
		LocalSigSecretKeyPath: keyDir,
		InitialSuiteID:        "cs-mlkem768-aesgcm-mldsa65",
		StrictUDPPeerMatch:    true,
		StatusFilePath:        filepath.Join(statusDir, "drone_status.json"),
	}
	for _, conf := range []*settings.Settings{gcsConf, droneConf} {
		conf.WireVersion = 1
		conf.ReplayWindow = 1024
		conf.PlaintextIngressHost = "127.0.0.1"
		conf.PlaintextEgressHost = "127.0.0.1"
		if err := conf.Validate(false); err != nil {
			t.Fatalf("config invalid: %v", err)
		}
	}

	gcs := startProxy(t, gcsConf)
	// The GCS must be listening before the drone dials in.
	waitForState(t, gcsCtl, "initializing")
	drone := startProxy(t, droneConf)

	waitForState(t, gcsCtl, "running")
	waitForState(t, droneCtl, "running")

	// Drone→GCS direction: the GCS learns the drone's address from the
	// first authenticated datagram.
	sendDatagram(t, dronePT, []byte("Hello from drone"))
	expectDatagram(t, gcsAppRX, []byte("Hello from drone"), 5*time.Second)

	sendDatagram(t, gcsPT, []byte("Hello from GCS"))
	expectDatagram(t, droneAppRX, []byte("Hello from GCS"), 5*time.Second)

	// Counters moved on both sides.
	status := controlRequest(t, gcsCtl, `{"cmd":"status"}`)
	counters := status["counters"].(map[string]any)
	if counters["enc_in"].(float64) < 1 || counters["enc_out"].(float64) < 1 {
		t.Fatalf("gcs counters: %v", counters)
	}

	// In-session rekey, requested on the drone.
	resp := controlRequest(t, droneCtl, `{"cmd":"rekey","suite":"cs-mlkem1024-aesgcm-mldsa87"}`)
	if resp["ok"] != true {
		t.Fatalf("rekey refused: %v", resp)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		gcsStatus := controlRequest(t, gcsCtl, `{"cmd":"status"}`)
		if gcsStatus["epoch"] == float64(1) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("gcs never pivoted to epoch 1: %v", gcsStatus)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Traffic continues under the new suite in both directions.
	sendDatagram(t, dronePT, []byte("post-rekey drone"))
	expectDatagram(t, gcsAppRX, []byte("post-rekey drone"), 5*time.Second)
	sendDatagram(t, gcsPT, []byte("post-rekey gcs"))
	expectDatagram(t, droneAppRX, []byte("post-rekey gcs"), 5*time.Second)

	status = controlRequest(t, droneCtl, `{"cmd":"status"}`)
	if status["suite"] != "cs-mlkem1024-aesgcm-mldsa87" || status["epoch"] != float64(1) {
		t.Fatalf("drone status after rekey: %v", status)
	}
	counters = status["counters"].(map[string]any)
	if counters["rekeys_ok"].(float64) != 1 {
		t.Fatalf("drone rekey counters: %v", counters)
	}

	// A rekey to a suite without a linkable signature fails and leaves the
	// session untouched.
	resp = controlRequest(t, droneCtl, `{"cmd":"rekey","suite":"cs-mlkem512-aesgcm-falcon512"}`)
	if resp["ok"] != false {
		t.Fatalf("falcon rekey must fail: %v", resp)
	}
	status = controlRequest(t, droneCtl, `{"cmd":"status"}`)
	if status["epoch"] != float64(1) {
		t.Fatalf("epoch moved on failed rekey: %v", status)
	}
	counters = status["counters"].(map[string]any)
	if counters["rekeys_fail"].(float64) != 1 {
		t.Fatalf("rekeys_fail not counted: %v", counters)
	}
	sendDatagram(t, dronePT, []byte("still flowing"))
	expectDatagram(t, gcsAppRX, []byte("still flowing"), 5*time.Second)

	// Status files landed on disk.
	if _, err := os.Stat(gcsConf.StatusFilePath); err != nil {
		t.Fatalf("gcs status file: %v", err)
	}

	// Clean shutdown through the control channel.
	_ = controlRequest(t, droneCtl, `{"cmd":"stop"}`)
	_ = controlRequest(t, gcsCtl, `{"cmd":"stop"}`)

	for name, proc := range map[string]*proxyProcess{"gcs": gcs, "drone": drone} {
		select {
		case err := <-proc.errChan:
			if err != nil {
				t.Fatalf("%s exited with error: %v", name, err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("%s did not stop", name)
		}
	}
}
