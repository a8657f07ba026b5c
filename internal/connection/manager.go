// Package connection owns the persistent duplex connection to the remote
// trading server: dialing, the reconnect/backoff state machine, heartbeat,
// and the typed send/receive surface.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradedeck/internal/domain"
)

const (
	writeWait          = 10 * time.Second
	defaultDialTimeout = 10 * time.Second

	// Inbound silence longer than this many heartbeat intervals is treated
	// as a dead connection.
	livenessIntervals = 3
)

// Options configures the manager. Zero values fall back to defaults.
type Options struct {
	URL                  string
	Dial                 DialFunc
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	DialTimeout          time.Duration
	Log                  zerolog.Logger
}

// Manager owns one persistent connection and its lifecycle.
// It is the only writer of the shared ConnectionState; every other component
// reads immutable copies published through OnStateChange.
type Manager struct {
	opts     Options
	dispatch func(domain.Envelope)
	log      zerolog.Logger

	mu           sync.RWMutex
	conn         Conn
	connCancel   context.CancelFunc
	stopChan     chan struct{}
	stopped      bool
	reconnecting bool
	lastInbound  time.Time
	state        domain.ConnectionState

	listenerMu   sync.Mutex
	listeners    map[uint64]func(domain.ConnectionState)
	nextListener uint64
}

// NewManager creates a connection manager. dispatch receives every decoded
// inbound envelope; it is called from the read loop, so envelopes of the same
// type arrive in order.
func NewManager(opts Options, dispatch func(domain.Envelope)) *Manager {
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	if opts.BaseReconnectDelay <= 0 {
		opts.BaseReconnectDelay = 2 * time.Second
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 10
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Manager{
		opts:      opts,
		dispatch:  dispatch,
		log:       opts.Log.With().Str("component", "connection").Logger(),
		stopped:   true,
		state:     domain.ConnectionState{Status: domain.StatusDisconnected},
		listeners: make(map[uint64]func(domain.ConnectionState)),
	}
}

// Connect starts a connection session. On dial failure the reconnect loop
// takes over in the background and the error is returned so the caller can
// log it; the manager keeps retrying per the backoff policy.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.state.Status == domain.StatusConnected || m.state.Status == domain.StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	// A running reconnect loop owns the session; a second dial here would
	// install a duplicate connection.
	if m.reconnecting {
		m.mu.Unlock()
		m.log.Debug().Msg("Reconnect already in progress, ignoring connect request")
		return nil
	}
	m.stopped = false
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	m.setState(func(s *domain.ConnectionState) {
		s.Status = domain.StatusConnecting
		s.LastError = ""
	})

	m.log.Info().Str("url", m.opts.URL).Msg("Connecting to trading server")

	if err := m.dial(stop); err != nil {
		m.log.Warn().Err(err).Msg("Initial connection failed, retrying in background")
		m.scheduleReconnect(stop, err)
		return err
	}
	return nil
}

// Disconnect tears the session down and marks the shutdown as intentional so
// no reconnect is scheduled. Safe to call more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.stopChan != nil {
		close(m.stopChan)
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	conn := m.conn
	m.conn = nil
	alreadyDisconnected := m.state.Status == domain.StatusDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if !alreadyDisconnected {
		m.setState(func(s *domain.ConnectionState) {
			s.Status = domain.StatusDisconnected
			s.LastError = ""
		})
	}
	m.log.Info().Msg("Disconnected from trading server")
}

// Send marshals and writes one message. When the connection is not up the
// message is dropped with a warning; Send never fails the caller.
func (m *Manager) Send(v interface{}) {
	m.mu.RLock()
	conn := m.conn
	connected := m.state.Status == domain.StatusConnected
	m.mu.RUnlock()

	if !connected || conn == nil {
		m.log.Warn().Interface("message", v).Msg("Not connected, dropping outbound message")
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to marshal outbound message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		m.log.Warn().Err(err).Msg("Failed to write outbound message")
	}
}

// State returns a copy of the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnStateChange registers a listener for state transitions and returns an
// unsubscribe function. Listeners receive immutable copies.
func (m *Manager) OnStateChange(fn func(domain.ConnectionState)) func() {
	m.listenerMu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

// dial establishes one connection and, on success, installs it and starts the
// read and heartbeat loops.
func (m *Manager) dial(stop chan struct{}) error {
	dialCtx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	defer cancel()

	conn, err := m.opts.Dial(dialCtx, m.opts.URL)
	if err != nil {
		return err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	now := time.Now()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		connCancel()
		_ = conn.Close()
		return fmt.Errorf("connection manager stopped")
	}
	m.conn = conn
	m.connCancel = connCancel
	m.lastInbound = now
	m.mu.Unlock()

	m.setState(func(s *domain.ConnectionState) {
		s.Status = domain.StatusConnected
		s.ReconnectAttempts = 0
		s.LastConnectedAt = &now
		s.LastError = ""
	})

	m.log.Info().Msg("Connected to trading server")

	go m.readLoop(connCtx, conn, stop)
	go m.heartbeat(connCtx, conn, stop)
	return nil
}

// readLoop reads frames until the connection dies, decoding envelopes and
// handing them to the dispatcher. Malformed frames are logged and dropped
// without affecting connection state.
func (m *Manager) readLoop(ctx context.Context, conn Conn, stop chan struct{}) {
	var readErr error
	defer func() {
		select {
		case <-stop:
			return
		default:
		}
		// Context cancellation means an intentional disconnect or a
		// heartbeat-forced reconnect; both are handled elsewhere.
		if ctx.Err() != nil {
			return
		}
		if readErr == nil {
			readErr = fmt.Errorf("connection closed by peer")
		}
		m.log.Error().Err(readErr).Msg("Connection lost")
		m.scheduleReconnect(stop, readErr)
	}()

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			readErr = err
			return
		}
		if len(data) == 0 {
			continue
		}

		m.mu.Lock()
		m.lastInbound = time.Now()
		m.mu.Unlock()

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			m.log.Warn().Str("frame", string(data)).Msg("Dropping malformed inbound frame")
			continue
		}
		if m.dispatch != nil {
			m.dispatch(env)
		}
	}
}

// heartbeat emits a keepalive on a fixed interval while connected. Absence of
// any inbound traffic for livenessIntervals heartbeats forces a reconnect.
func (m *Manager) heartbeat(ctx context.Context, conn Conn, stop chan struct{}) {
	interval := m.opts.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		last := m.lastInbound
		m.mu.RUnlock()

		if silence := time.Since(last); silence > time.Duration(livenessIntervals)*interval {
			m.log.Warn().Dur("silence", silence).Msg("No inbound traffic, treating connection as dead")
			m.mu.Lock()
			if m.connCancel != nil {
				m.connCancel()
				m.connCancel = nil
			}
			m.mu.Unlock()
			_ = conn.Close()
			m.scheduleReconnect(stop, fmt.Errorf("heartbeat timeout: no inbound traffic for %s", silence.Round(time.Second)))
			return
		}

		data, err := json.Marshal(domain.NewPing(time.Now()))
		if err != nil {
			continue
		}
		writeCtx, cancel := context.WithTimeout(ctx, writeWait)
		if err := conn.Write(writeCtx, data); err != nil {
			m.log.Warn().Err(err).Msg("Failed to send heartbeat ping")
		}
		cancel()
	}
}

// scheduleReconnect transitions to reconnecting and starts the backoff loop,
// unless one is already running or the shutdown was intentional.
func (m *Manager) scheduleReconnect(stop chan struct{}, cause error) {
	m.mu.Lock()
	if m.stopped || m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	go m.reconnectLoop(stop, cause)
}

// reconnectLoop retries the connection with exponential backoff. The attempt
// counter increments on every failed connect and resets only when a dial
// succeeds; exceeding the maximum is terminal until Connect is called again.
func (m *Manager) reconnectLoop(stop chan struct{}, cause error) {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	attempt := m.State().ReconnectAttempts
	for {
		attempt++
		if attempt > m.opts.MaxReconnectAttempts {
			msg := fmt.Sprintf("reconnect attempts exhausted after %d attempts", m.opts.MaxReconnectAttempts)
			m.log.Error().Int("max_attempts", m.opts.MaxReconnectAttempts).Msg("Giving up on reconnection")
			m.setState(func(s *domain.ConnectionState) {
				s.Status = domain.StatusDisconnected
				s.LastError = msg
			})
			return
		}

		delay := backoffDelay(m.opts.BaseReconnectDelay, m.opts.MaxReconnectDelay, attempt)
		errMsg := ""
		if cause != nil {
			errMsg = cause.Error()
		}
		m.setState(func(s *domain.ConnectionState) {
			s.Status = domain.StatusReconnecting
			s.ReconnectAttempts = attempt
			s.LastError = errMsg
		})
		m.log.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Scheduling reconnect")

		select {
		case <-time.After(delay):
		case <-stop:
			return
		}

		m.setState(func(s *domain.ConnectionState) {
			s.Status = domain.StatusConnecting
		})

		if err := m.dial(stop); err != nil {
			cause = err
			m.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnection failed")
			continue
		}

		m.log.Info().Int("attempt", attempt).Msg("Reconnected to trading server")
		return
	}
}

// setState applies a mutation under the lock and publishes an immutable copy
// to every listener.
func (m *Manager) setState(mutate func(*domain.ConnectionState)) {
	m.mu.Lock()
	mutate(&m.state)
	snapshot := m.state
	m.mu.Unlock()

	m.listenerMu.Lock()
	listeners := make([]func(domain.ConnectionState), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
