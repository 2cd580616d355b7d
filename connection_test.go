package cqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestManager(cluster *MemoryCluster, metrics Metrics) *ConnectionManager {
	return NewConnectionManager(DefaultConfig(), cluster, &NoOpLogger{}, metrics)
}

// waitForState polls until the manager reaches want or the deadline passes
func waitForState(t *testing.T, m *ConnectionManager, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func TestConnStateString(t *testing.T) {
	tests := map[ConnState]string{
		StateUninitialized: "uninitialized",
		StateConnecting:    "connecting",
		StateReady:         "ready",
		StateFailed:        "failed",
		ConnState(9):       "ConnState(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestConnectionManagerStartsUninitialized(t *testing.T) {
	cluster := NewMemoryCluster()
	m := newTestManager(cluster, nil)

	if m.State() != StateUninitialized {
		t.Errorf("state = %s, want uninitialized", m.State())
	}
	if cluster.DialCount() != 0 {
		t.Errorf("dialed %d times before first Connect", cluster.DialCount())
	}
}

func TestConnectionManagerConnectSequence(t *testing.T) {
	cluster := NewMemoryCluster()
	metrics := NewInMemoryMetrics()
	m := newTestManager(cluster, metrics)
	defer m.Close()

	session, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if session == nil {
		t.Fatal("expected a session")
	}
	if m.State() != StateReady {
		t.Errorf("state = %s, want ready", m.State())
	}

	// bootstrap dial + keyspace-bound dial
	if cluster.DialCount() != 2 {
		t.Errorf("DialCount = %d, want 2", cluster.DialCount())
	}
	if n := cluster.CountStatements("CREATE KEYSPACE IF NOT EXISTS " + DefaultNamespace); n != 1 {
		t.Errorf("CREATE KEYSPACE issued %d times, want 1", n)
	}
	if metrics.Count(MetricConnectAttempt) != 1 || metrics.Count(MetricConnectSuccess) != 1 {
		t.Errorf("connect metrics = %v", metrics.Counters)
	}
	if metrics.Gauges[MetricConnectState] != float64(StateReady) {
		t.Errorf("state gauge = %v", metrics.Gauges[MetricConnectState])
	}

	again, err := m.Connect(context.Background())
	if err != nil || again != session {
		t.Errorf("second Connect returned a different outcome: %v", err)
	}
	if cluster.DialCount() != 2 {
		t.Errorf("second Connect dialed again: %d", cluster.DialCount())
	}
}

func TestConnectionManagerConcurrentCallersShareAttempt(t *testing.T) {
	cluster := NewMemoryCluster()
	release := cluster.HoldDials()
	m := newTestManager(cluster, nil)
	defer m.Close()

	const callers = 25
	var wg sync.WaitGroup
	sessions := make([]Session, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = m.Connect(context.Background())
		}(i)
	}

	waitForState(t, m, StateConnecting)
	release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if sessions[i] != sessions[0] {
			t.Fatalf("caller %d got a different session", i)
		}
	}
	if cluster.DialCount() != 2 {
		t.Errorf("DialCount = %d, want 2", cluster.DialCount())
	}
}

func TestConnectionManagerFailureIsSticky(t *testing.T) {
	cluster := NewMemoryCluster()
	cause := errors.New("no hosts available")
	cluster.FailDials(cause)
	metrics := NewInMemoryMetrics()
	m := newTestManager(cluster, metrics)

	_, err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want failed", m.State())
	}

	// The cluster recovers, but the manager keeps replaying the failure
	cluster.FailDials(nil)
	_, err2 := m.Connect(context.Background())
	if err2 != err {
		t.Errorf("later caller got %v, want the original error", err2)
	}
	if cluster.DialCount() != 1 {
		t.Errorf("DialCount = %d, want 1 (no retry)", cluster.DialCount())
	}
	if metrics.Count(MetricConnectFailure) != 1 {
		t.Errorf("connect failures = %d, want 1", metrics.Count(MetricConnectFailure))
	}
}

func TestConnectionManagerKeyspaceCreationFailure(t *testing.T) {
	cluster := NewMemoryCluster()
	cluster.FailStatements("CREATE KEYSPACE", errors.New("unauthorized"))
	m := newTestManager(cluster, nil)

	_, err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	var ewc *ErrorWithContext
	if !errors.As(err, &ewc) || ewc.Context["step"] != "create-namespace" {
		t.Errorf("expected step create-namespace, got %v", err)
	}
	if cluster.DialCount() != 1 {
		t.Errorf("DialCount = %d, want 1", cluster.DialCount())
	}
}

func TestConnectionManagerReset(t *testing.T) {
	cluster := NewMemoryCluster()
	cluster.FailDials(errors.New("refused"))
	m := newTestManager(cluster, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	cluster.FailDials(nil)
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.State() != StateUninitialized {
		t.Errorf("state = %s, want uninitialized", m.State())
	}
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after Reset: %v", err)
	}
	if m.State() != StateReady {
		t.Errorf("state = %s, want ready", m.State())
	}
}

func TestConnectionManagerResetRequiresFailed(t *testing.T) {
	cluster := NewMemoryCluster()
	m := newTestManager(cluster, nil)
	defer m.Close()

	if err := m.Reset(); !errors.Is(err, ErrState) {
		t.Errorf("Reset from uninitialized = %v, want ErrState", err)
	}
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Reset(); !errors.Is(err, ErrState) {
		t.Errorf("Reset from ready = %v, want ErrState", err)
	}
}

func TestConnectionManagerCallerContext(t *testing.T) {
	cluster := NewMemoryCluster()
	release := cluster.HoldDials()
	defer release()
	m := newTestManager(cluster, nil)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The shared attempt is unaffected by the caller giving up
	if m.State() != StateConnecting {
		t.Errorf("state = %s, want connecting", m.State())
	}
	release()
	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestConnectionManagerConnectTimeout(t *testing.T) {
	cluster := NewMemoryCluster()
	release := cluster.HoldDials()
	defer release()

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	m := NewConnectionManager(cfg, cluster, nil, nil)

	err := m.Wait(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", err)
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want failed", m.State())
	}
}

func TestConnectionManagerWaitFunc(t *testing.T) {
	cluster := NewMemoryCluster()
	m := newTestManager(cluster, nil)
	defer m.Close()

	done := make(chan error, 1)
	m.WaitFunc(context.Background(), func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitFunc reported %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFunc callback not called")
	}
}

func TestConnectionManagerClose(t *testing.T) {
	cluster := NewMemoryCluster()
	m := newTestManager(cluster, nil)

	session, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
	if err := session.Exec(context.Background(), deleteStmt("records"), "k"); err == nil {
		t.Error("expected closed session to reject statements")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConnectionManagerCloseBeforeConnect(t *testing.T) {
	cluster := NewMemoryCluster()
	m := newTestManager(cluster, nil)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
	if cluster.DialCount() != 0 {
		t.Errorf("DialCount = %d, want 0", cluster.DialCount())
	}
}

func TestConnectionManagerCloseWhileConnecting(t *testing.T) {
	cluster := NewMemoryCluster()
	release := cluster.HoldDials()
	m := newTestManager(cluster, nil)

	result := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background())
		result <- err
	}()

	waitForState(t, m, StateConnecting)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	release()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Connect = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want failed", m.State())
	}
}

func TestConnectionManagerConnectDuringReset(t *testing.T) {
	cluster := NewMemoryCluster()
	cluster.FailDials(errors.New("refused"))
	m := newTestManager(cluster, nil)
	defer m.Close()

	stop := make(chan struct{})
	var nilResults, sessions int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				session, err := m.Connect(context.Background())
				mu.Lock()
				if session == nil && err == nil {
					nilResults++
				}
				if session != nil {
					sessions++
				}
				mu.Unlock()
			}
		}()
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Reset()
	}
	close(stop)
	wg.Wait()

	if nilResults != 0 {
		t.Errorf("Connect returned a nil session without an error %d times", nilResults)
	}
	if sessions != 0 {
		t.Errorf("Connect returned %d sessions while every dial fails", sessions)
	}
}

func TestConnectionManagerWaitersSeeTheirAttempt(t *testing.T) {
	cluster := NewMemoryCluster()
	cluster.FailDials(errors.New("refused"))
	m := newTestManager(cluster, nil)
	defer m.Close()

	_, first := m.Connect(context.Background())
	if first == nil {
		t.Fatal("expected failure")
	}

	// A new attempt after Reset does not change what earlier callers saw
	cluster.FailDials(nil)
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	session, err := m.Connect(context.Background())
	if err != nil || session == nil {
		t.Fatalf("Connect after Reset = %v, %v", session, err)
	}
	if !errors.Is(first, ErrConnection) {
		t.Errorf("first outcome = %v, want ErrConnection", first)
	}
}

func TestConnectionManagerResetAfterClose(t *testing.T) {
	cluster := NewMemoryCluster()
	m := newTestManager(cluster, nil)

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Reset(); !errors.Is(err, ErrState) {
		t.Errorf("Reset after Close = %v, want ErrState", err)
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close and Reset = %v, want ErrClosed", err)
	}
	if cluster.DialCount() != 2 {
		t.Errorf("dial count = %d, want 2 (no reconnect after Close)", cluster.DialCount())
	}
}

func TestConnectionManagerResetAfterFailedClose(t *testing.T) {
	cluster := NewMemoryCluster()
	cluster.FailDials(errors.New("refused"))
	m := newTestManager(cluster, nil)

	if _, err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	m.Close()
	if err := m.Reset(); !errors.Is(err, ErrState) {
		t.Errorf("Reset after Close = %v, want ErrState", err)
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}
