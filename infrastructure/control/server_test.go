package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"pqproxy/infrastructure/logging"
	"pqproxy/infrastructure/session"
)

type fakeCommander struct {
	mu          sync.Mutex
	status      session.Status
	rekeyErr    error
	rekeySuite  string
	stopCalled  bool
	rekeyCalled bool
}

func (f *fakeCommander) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCommander) Rekey(_ context.Context, suiteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rekeyCalled = true
	f.rekeySuite = suiteID
	return f.rekeyErr
}

func (f *fakeCommander) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = true
}

func (f *fakeCommander) rekeyState() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rekeyCalled, f.rekeySuite
}

func (f *fakeCommander) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalled
}

func startServer(t *testing.T, commander Commander) (addr string, cancel context.CancelFunc) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	server := NewServer(commander, logging.NewLogLogger())
	go func() {
		_ = server.Serve(ctx, listener)
	}()

	t.Cleanup(func() {
		cancelCtx()
		_ = listener.Close()
	})
	return listener.Addr().String(), cancelCtx
}

func roundTrip(t *testing.T, addr, requestLine string) map[string]any {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", requestLine); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	return decoded
}

func TestPing(t *testing.T) {
	addr, _ := startServer(t, &fakeCommander{})

	resp := roundTrip(t, addr, `{"cmd":"ping"}`)
	if resp["ok"] != true {
		t.Fatalf("ping response: %v", resp)
	}
}

func TestStatus(t *testing.T) {
	commander := &fakeCommander{
		status: session.Status{
			State: session.StateRunning,
			Role:  "gcs",
			Suite: "cs-mlkem768-aesgcm-mldsa65",
			Epoch: 2,
		},
	}
	addr, _ := startServer(t, commander)

	resp := roundTrip(t, addr, `{"cmd":"status"}`)
	if resp["ok"] != true || resp["state"] != "running" || resp["suite"] != "cs-mlkem768-aesgcm-mldsa65" {
		t.Fatalf("status response: %v", resp)
	}
	if resp["epoch"] != float64(2) {
		t.Fatalf("epoch missing from status: %v", resp)
	}
}

func TestRekeyDispatch(t *testing.T) {
	commander := &fakeCommander{}
	addr, _ := startServer(t, commander)

	resp := roundTrip(t, addr, `{"cmd":"rekey","suite":"cs-mlkem1024-aesgcm-mldsa87"}`)
	if resp["ok"] != true {
		t.Fatalf("rekey response: %v", resp)
	}
	called, suiteID := commander.rekeyState()
	if !called || suiteID != "cs-mlkem1024-aesgcm-mldsa87" {
		t.Fatalf("rekey not dispatched: %v %s", called, suiteID)
	}
}

func TestRekeyFailureSurfaced(t *testing.T) {
	commander := &fakeCommander{rekeyErr: fmt.Errorf("rekey failed: unsupported_suite")}
	addr, _ := startServer(t, commander)

	resp := roundTrip(t, addr, `{"cmd":"rekey","suite":"cs-mlkem512-aesgcm-falcon512"}`)
	if resp["ok"] != false {
		t.Fatalf("failed rekey must report ok=false: %v", resp)
	}
	if resp["error"] == "" {
		t.Fatalf("failed rekey must carry an error: %v", resp)
	}
}

func TestRekeyWithoutSuiteRejected(t *testing.T) {
	commander := &fakeCommander{}
	addr, _ := startServer(t, commander)

	resp := roundTrip(t, addr, `{"cmd":"rekey"}`)
	if resp["ok"] != false {
		t.Fatalf("rekey without suite must fail: %v", resp)
	}
	if called, _ := commander.rekeyState(); called {
		t.Fatal("rekey must not be dispatched without a suite")
	}
}

func TestMalformedJSON(t *testing.T) {
	addr, _ := startServer(t, &fakeCommander{})

	resp := roundTrip(t, addr, `{not json`)
	if resp["ok"] != false {
		t.Fatalf("malformed request must fail: %v", resp)
	}
}

func TestUnknownCommand(t *testing.T) {
	addr, _ := startServer(t, &fakeCommander{})

	resp := roundTrip(t, addr, `{"cmd":"reboot"}`)
	if resp["ok"] != false {
		t.Fatalf("unknown command must fail: %v", resp)
	}
}

func TestStop(t *testing.T) {
	commander := &fakeCommander{}
	addr, _ := startServer(t, commander)

	resp := roundTrip(t, addr, `{"cmd":"stop"}`)
	if resp["ok"] != true {
		t.Fatalf("stop response: %v", resp)
	}
	// The stop callback fires after the response is written.
	deadline := time.Now().Add(time.Second)
	for !commander.stopped() {
		if time.Now().After(deadline) {
			t.Fatal("stop not dispatched")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerSurvivesManyConnections(t *testing.T) {
	addr, _ := startServer(t, &fakeCommander{})

	for i := 0; i < 20; i++ {
		resp := roundTrip(t, addr, `{"cmd":"ping"}`)
		if resp["ok"] != true {
			t.Fatalf("ping %d failed: %v", i, resp)
		}
	}
}
