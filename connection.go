package cqlstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConnState is the lifecycle state of the shared connection
type ConnState int32

const (
	StateUninitialized ConnState = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// ConnectionManager owns the single session of a backend instance.
//
// The first Connect starts one connect sequence (bootstrap dial, keyspace
// creation, keyspace-bound dial); every caller, concurrent or later, waits
// on the same attempt and observes that attempt's session or error.
// Ready and Failed are final until Close or an explicit Reset.
type ConnectionManager struct {
	cfg     Config
	dialer  Dialer
	logger  Logger
	metrics Metrics

	mu      sync.Mutex
	state   ConnState
	current *connAttempt
	closed  bool
}

// connAttempt is one run of the connect sequence. session and err are
// written once, before done is closed, and never change afterwards.
type connAttempt struct {
	id      string
	done    chan struct{}
	session Session
	err     error
}

func newConnAttempt() *connAttempt {
	return &connAttempt{id: NewID(), done: make(chan struct{})}
}

// NewConnectionManager creates a manager in the Uninitialized state.
// No network activity happens until the first Connect.
func NewConnectionManager(cfg Config, dialer Dialer, logger Logger, metrics Metrics) *ConnectionManager {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &ConnectionManager{
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger,
		metrics: metrics,
	}
}

// Connect returns the shared session, starting the connect sequence on the
// first call. ctx bounds only this caller's wait; it never cancels the
// shared attempt, which runs under Config.ConnectTimeout.
//
// A non-nil error is returned whenever the session is nil.
func (m *ConnectionManager) Connect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.state == StateUninitialized {
		m.state = StateConnecting
		m.current = newConnAttempt()
		m.metrics.Gauge(MetricConnectState, float64(StateConnecting))
		go m.establish(m.current)
	}
	a := m.current
	m.mu.Unlock()

	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if a.err != nil {
		return nil, a.err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return a.session, nil
}

// Wait blocks until the connection is Ready or Failed and returns the outcome
func (m *ConnectionManager) Wait(ctx context.Context) error {
	_, err := m.Connect(ctx)
	return err
}

// WaitFunc starts connecting if needed and calls fn with the outcome from
// a separate goroutine
func (m *ConnectionManager) WaitFunc(ctx context.Context, fn func(error)) {
	go func() {
		fn(m.Wait(ctx))
	}()
}

// State returns the current lifecycle state
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset returns a Failed manager to Uninitialized so the next Connect makes
// a fresh attempt. It never happens automatically, and a closed manager
// cannot be reset.
func (m *ConnectionManager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return WithContext(ErrState, map[string]interface{}{
			"reason": "manager is closed",
			"state":  m.state.String(),
		})
	}
	if m.state != StateFailed {
		return WithContext(ErrState, map[string]interface{}{
			"reason": "reset is only allowed from the failed state",
			"state":  m.state.String(),
		})
	}
	m.state = StateUninitialized
	m.current = nil
	m.metrics.Gauge(MetricConnectState, float64(StateUninitialized))
	m.logger.Info("connection reset", "namespace", m.cfg.Namespace)
	return nil
}

// Close releases the session. Subsequent operations fail with ErrClosed.
// An attempt still in flight is closed when it resolves.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	// establish sees the closed flag for an attempt still in flight
	if m.state == StateReady {
		m.current.session.Close()
	}
	m.state = StateFailed
	m.metrics.Gauge(MetricConnectState, float64(StateFailed))
	return nil
}

// establish runs the connect sequence and records its outcome in a
func (m *ConnectionManager) establish(a *connAttempt) {
	start := time.Now()
	m.metrics.Increment(MetricConnectAttempt)
	m.logger.Info("connecting",
		"attempt", a.id,
		"hosts", m.cfg.Hosts,
		"namespace", m.cfg.Namespace,
	)

	ctx := context.Background()
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	session, err := m.connectSequence(ctx)
	m.metrics.Timing(MetricConnectDuration, time.Since(start))

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(a.done)

	if m.closed {
		if session != nil {
			session.Close()
		}
		a.err = ErrClosed
		return
	}

	if err != nil {
		a.err = err
		m.state = StateFailed
		m.metrics.Increment(MetricConnectFailure)
		m.metrics.Gauge(MetricConnectState, float64(StateFailed))
		m.logger.Error("connection failed", "attempt", a.id, "namespace", m.cfg.Namespace, "error", err)
		return
	}

	a.session = session
	m.state = StateReady
	m.metrics.Increment(MetricConnectSuccess)
	m.metrics.Gauge(MetricConnectState, float64(StateReady))
	m.logger.Info("connected",
		"attempt", a.id,
		"namespace", m.cfg.Namespace,
		"duration", time.Since(start),
	)
}

// connectSequence opens a bootstrap session, creates the namespace, then
// dials a session bound to it
func (m *ConnectionManager) connectSequence(ctx context.Context) (Session, error) {
	boot, err := m.dialer.Dial(ctx, "")
	if err != nil {
		return nil, Wrap(ErrConnection, err, map[string]interface{}{
			"step":  "open",
			"hosts": m.cfg.Hosts,
		})
	}

	stmt, err := createKeyspaceStmt(m.cfg.Namespace, m.cfg.KeyspaceConf)
	if err == nil {
		err = boot.Exec(ctx, stmt)
	}
	boot.Close()
	if err != nil {
		return nil, Wrap(ErrConnection, err, map[string]interface{}{
			"step":      "create-namespace",
			"namespace": m.cfg.Namespace,
		})
	}

	session, err := m.dialer.Dial(ctx, m.cfg.Namespace)
	if err != nil {
		return nil, Wrap(ErrConnection, err, map[string]interface{}{
			"step":      "use-namespace",
			"namespace": m.cfg.Namespace,
		})
	}
	return session, nil
}
