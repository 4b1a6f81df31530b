package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/config"
	"mt5-trade-bot-go/internal/terminal"
)

// State describes the terminal session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Credentials identify the broker account the manager logs in with.
type Credentials struct {
	Account  int64
	Password string
	Server   string
}

const (
	defaultAttemptInterval   = 5 * time.Second
	defaultReconnectInterval = time.Minute
	defaultKeepalive         = 30 * time.Second
)

// Manager owns the single terminal session shared by every strategy runtime.
// Connection attempts are serialized through its mutex and throttled by a
// minimum spacing, so a burst of callers cannot stampede the terminal: at most
// one real attempt happens per interval and everyone else gets the cached
// state.
type Manager struct {
	terminal terminal.Client
	creds    Credentials
	logger   *zap.Logger

	attemptInterval   time.Duration // hard lower bound between attempts
	reconnectInterval time.Duration // pacing of automatic retries after a failure
	keepalive         time.Duration

	mu          sync.Mutex // serializes attempts, guards lastAttempt
	lastAttempt time.Time
	state       atomic.Int32 // mutated only while mu is held

	now func() time.Time
}

// NewManager creates a connection manager for the given terminal client.
func NewManager(client terminal.Client, creds Credentials, cfg *config.Connection, logger *zap.Logger) *Manager {
	m := &Manager{
		terminal:          client,
		creds:             creds,
		logger:            logger.Named("connection"),
		attemptInterval:   cfg.AttemptInterval,
		reconnectInterval: cfg.ReconnectInterval,
		keepalive:         cfg.Keepalive,
		now:               time.Now,
	}
	if m.attemptInterval <= 0 {
		m.attemptInterval = defaultAttemptInterval
	}
	if m.reconnectInterval <= 0 {
		m.reconnectInterval = defaultReconnectInterval
	}
	if m.keepalive <= 0 {
		m.keepalive = defaultKeepalive
	}
	return m
}

// State returns the current session state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether a terminal session is established.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Connect establishes a terminal session. Calls arriving within the minimum
// attempt interval of the previous one do not hit the terminal and simply
// report whether a session currently exists.
func (m *Manager) Connect(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// EnsureConnection reports true immediately when a session exists and
// otherwise tries to establish one.
func (m *Manager) EnsureConnection(ctx context.Context) bool {
	if m.IsConnected() {
		return true
	}
	return m.Connect(ctx)
}

// Reconnect drops the cached session state and attempts a fresh connection.
// The attempt throttle still applies.
func (m *Manager) Reconnect(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setState(StateDisconnected)
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) bool {
	now := m.now()

	// Don't attempt too frequently
	if now.Sub(m.lastAttempt) < m.attemptInterval {
		return m.IsConnected()
	}
	m.lastAttempt = now

	m.setState(StateConnecting)
	if m.attempt(ctx) {
		m.setState(StateConnected)
		return true
	}
	m.setState(StateDisconnected)
	return false
}

// attempt performs one initialize+login sequence. Any failure releases the
// half-open terminal session before reporting false, and a panicking terminal
// client is treated as a failed attempt rather than taking the process down.
func (m *Manager) attempt(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Connection attempt panicked", zap.Any("panic", r))
			m.releaseSession(ctx)
			ok = false
		}
	}()

	if err := m.terminal.Initialize(ctx); err != nil {
		m.logger.Error("Terminal initialization failed", zap.Error(err))
		m.releaseSession(ctx)
		return false
	}

	if err := m.terminal.Login(ctx, m.creds.Account, m.creds.Password, m.creds.Server); err != nil {
		m.logger.Error("Terminal login failed",
			zap.Int64("account", m.creds.Account),
			zap.String("server", m.creds.Server),
			zap.Error(err),
		)
		m.releaseSession(ctx)
		return false
	}

	m.logger.Info("Terminal connection established",
		zap.Int64("account", m.creds.Account),
		zap.String("server", m.creds.Server),
	)
	return true
}

func (m *Manager) releaseSession(ctx context.Context) {
	if err := m.terminal.Shutdown(ctx); err != nil {
		m.logger.Debug("Terminal shutdown after failed attempt", zap.Error(err))
	}
}

// Run keeps the session alive until ctx is cancelled: it verifies the
// connection every keepalive period and, after a failed attempt, waits the
// longer reconnect interval before the next automatic try. Manual Connect and
// Reconnect calls are unaffected by this pacing.
func (m *Manager) Run(ctx context.Context) {
	timer := time.NewTimer(m.keepalive)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := m.keepalive
		if !m.EnsureConnection(ctx) {
			m.logger.Warn("Terminal connection unavailable",
				zap.Duration("next_attempt_in", m.reconnectInterval),
			)
			next = m.reconnectInterval
		}
		timer.Reset(next)
	}
}

// Close releases the terminal session at process shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.IsConnected() {
		return
	}
	if err := m.terminal.Shutdown(ctx); err != nil {
		m.logger.Warn("Terminal shutdown failed", zap.Error(err))
	}
	m.setState(StateDisconnected)
}
