package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordVMCreated(t *testing.T) {
	RecordVMCreated("success")
	count := testutil.ToFloat64(vmsCreatedTotal.WithLabelValues("success"))
	if count < 1 {
		t.Errorf("expected counter to be incremented, got %v", count)
	}
}

func TestSetActiveVMs(t *testing.T) {
	SetActiveVMs(3)
	if got := testutil.ToFloat64(vmsActive); got != 3 {
		t.Errorf("vmsActive = %v, want 3", got)
	}
}

func TestSetSessionsByState(t *testing.T) {
	SetSessionsByState("attached", 2)
	if got := testutil.ToFloat64(sessionsTotal.WithLabelValues("attached")); got != 2 {
		t.Errorf("sessionsTotal[attached] = %v, want 2", got)
	}
}

func TestRecordDaemonRPC(t *testing.T) {
	RecordDaemonRPC("create_session", "ok")
	count := testutil.ToFloat64(daemonRPCTotal.WithLabelValues("create_session", "ok"))
	if count < 1 {
		t.Errorf("expected counter to be incremented, got %v", count)
	}
}

func TestRecordEventHandlerFailure(t *testing.T) {
	RecordEventHandlerFailure("eventlog")
	count := testutil.ToFloat64(eventHandlerFailuresTotal.WithLabelValues("eventlog"))
	if count < 1 {
		t.Errorf("expected counter to be incremented, got %v", count)
	}
}

func TestObserveVMOperation(t *testing.T) {
	ObserveVMOperation("create", 0.5)
	if count := testutil.CollectAndCount(vmOperationDuration); count == 0 {
		t.Error("expected histogram to have at least one observation series")
	}
}

func findFreePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestDebugServer_HealthzAndMetrics(t *testing.T) {
	addr := findFreePort(t)
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	srv := NewDebugServer(addr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	waitForServer(t, addr)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp2.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server did not start listening in time")
}
