package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradedeck/internal/domain"
)

// fakeConn is an in-memory Conn whose reads are fed by the test.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) sentFrame(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[i]
}

// testOptions returns fast-cycling options suitable for unit tests.
func testOptions(dial DialFunc) Options {
	return Options{
		URL:                  "ws://test",
		Dial:                 dial,
		BaseReconnectDelay:   2 * time.Millisecond,
		MaxReconnectDelay:    10 * time.Millisecond,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    time.Hour, // keep heartbeat out of the way
		DialTimeout:          time.Second,
		Log:                  zerolog.Nop(),
	}
}

// stateRecorder collects every published state transition.
type stateRecorder struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (r *stateRecorder) record(s domain.ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []domain.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func TestConnectDispatchesInboundEnvelopes(t *testing.T) {
	conn := newFakeConn()
	dial := func(_ context.Context, _ string) (Conn, error) { return conn, nil }

	received := make(chan domain.Envelope, 8)
	m := NewManager(testOptions(dial), func(env domain.Envelope) { received <- env })
	defer m.Disconnect()

	require.NoError(t, m.Connect())
	require.Equal(t, domain.StatusConnected, m.State().Status)
	require.NotNil(t, m.State().LastConnectedAt)

	conn.in <- []byte(`{"type":"price_update","timestamp":"2026-08-30T09:00:00Z","data":{"stock_code":"005930"}}`)

	select {
	case env := <-received:
		assert.Equal(t, domain.PriceUpdate, env.Type)
		assert.Equal(t, "2026-08-30T09:00:00Z", env.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("envelope was not dispatched")
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	conn := newFakeConn()
	dial := func(_ context.Context, _ string) (Conn, error) { return conn, nil }

	received := make(chan domain.Envelope, 8)
	m := NewManager(testOptions(dial), func(env domain.Envelope) { received <- env })
	defer m.Disconnect()

	require.NoError(t, m.Connect())

	conn.in <- []byte(`not json at all`)
	conn.in <- []byte(`{"no_type":true}`)
	conn.in <- []byte(`{"type":"account_update","timestamp":"t","data":{}}`)

	select {
	case env := <-received:
		assert.Equal(t, domain.AccountUpdate, env.Type, "only the well-formed frame should survive")
	case <-time.After(time.Second):
		t.Fatal("valid envelope was not dispatched")
	}
	select {
	case env := <-received:
		t.Fatalf("unexpected extra envelope: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendWhileDisconnectedDropsMessage(t *testing.T) {
	dialed := false
	dial := func(_ context.Context, _ string) (Conn, error) {
		dialed = true
		return newFakeConn(), nil
	}

	m := NewManager(testOptions(dial), nil)
	m.Send(domain.NewPing(time.Now())) // must not panic or dial
	assert.False(t, dialed)
	assert.Equal(t, domain.StatusDisconnected, m.State().Status)
}

func TestSendWritesWhenConnected(t *testing.T) {
	conn := newFakeConn()
	dial := func(_ context.Context, _ string) (Conn, error) { return conn, nil }

	m := NewManager(testOptions(dial), nil)
	defer m.Disconnect()
	require.NoError(t, m.Connect())

	m.Send(domain.NewPing(time.Now()))
	require.Equal(t, 1, conn.sentCount())

	var ping domain.Ping
	require.NoError(t, json.Unmarshal(conn.sent[0], &ping))
	assert.Equal(t, "ping", ping.Type)
	assert.Greater(t, ping.Timestamp, int64(0))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	dial := func(_ context.Context, _ string) (Conn, error) { return conn, nil }

	rec := &stateRecorder{}
	m := NewManager(testOptions(dial), nil)
	m.OnStateChange(rec.record)

	require.NoError(t, m.Connect())
	m.Disconnect()
	assert.Equal(t, domain.StatusDisconnected, m.State().Status)

	before := len(rec.snapshot())
	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, before, len(rec.snapshot()), "repeat disconnects must not publish new transitions")
}

func TestReconnectsAfterConnectionLoss(t *testing.T) {
	var mu sync.Mutex
	var conns []*fakeConn
	dial := func(_ context.Context, _ string) (Conn, error) {
		c := newFakeConn()
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}

	rec := &stateRecorder{}
	m := NewManager(testOptions(dial), nil)
	m.OnStateChange(rec.record)
	defer m.Disconnect()

	require.NoError(t, m.Connect())

	// Simulate the peer dropping the connection.
	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) >= 2 && m.State().Status == domain.StatusConnected
	}, 2*time.Second, 5*time.Millisecond, "manager should dial a fresh connection")

	assert.Equal(t, 0, m.State().ReconnectAttempts, "attempts reset on successful connect")

	sawReconnecting := false
	for _, s := range rec.snapshot() {
		if s.Status == domain.StatusReconnecting {
			sawReconnecting = true
			assert.GreaterOrEqual(t, s.ReconnectAttempts, 1)
		}
	}
	assert.True(t, sawReconnecting, "a reconnecting state must be published")
}

func TestAttemptCounterIsMonotonicWhileRetrying(t *testing.T) {
	var mu sync.Mutex
	failures := 0
	dial := func(_ context.Context, _ string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures < 3 {
			failures++
			return nil, fmt.Errorf("dial refused")
		}
		return newFakeConn(), nil
	}

	rec := &stateRecorder{}
	m := NewManager(testOptions(dial), nil)
	m.OnStateChange(rec.record)
	defer m.Disconnect()

	_ = m.Connect() // first dial fails, retries run in the background

	require.Eventually(t, func() bool {
		return m.State().Status == domain.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	prev := 0
	for _, s := range rec.snapshot() {
		if s.Status != domain.StatusReconnecting {
			continue
		}
		assert.Greater(t, s.ReconnectAttempts, prev, "attempts must increase while retrying")
		prev = s.ReconnectAttempts
	}
	assert.Equal(t, 0, m.State().ReconnectAttempts)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	dial := func(_ context.Context, _ string) (Conn, error) {
		return nil, errors.New("dial refused")
	}

	opts := testOptions(dial)
	opts.MaxReconnectAttempts = 3

	m := NewManager(opts, nil)
	_ = m.Connect()

	require.Eventually(t, func() bool {
		s := m.State()
		return s.Status == domain.StatusDisconnected && s.LastError != ""
	}, 2*time.Second, 5*time.Millisecond)

	assert.Contains(t, m.State().LastError, "3", "terminal error should name the attempt count")

	// Terminal state: no timers left running, a fresh Connect starts over.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StatusDisconnected, m.State().Status)
}

func TestConnectAfterTerminalFailureStartsOver(t *testing.T) {
	var mu sync.Mutex
	allow := false
	dial := func(_ context.Context, _ string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if !allow {
			return nil, errors.New("dial refused")
		}
		return newFakeConn(), nil
	}

	opts := testOptions(dial)
	opts.MaxReconnectAttempts = 2

	m := NewManager(opts, nil)
	defer m.Disconnect()

	_ = m.Connect()
	require.Eventually(t, func() bool {
		s := m.State()
		return s.Status == domain.StatusDisconnected && s.LastError != ""
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	allow = true
	mu.Unlock()

	require.NoError(t, m.Connect())
	assert.Equal(t, domain.StatusConnected, m.State().Status)
	assert.Empty(t, m.State().LastError)
}

func TestHeartbeatSendsPingsWhileConnectionIsLive(t *testing.T) {
	conn := newFakeConn()
	dial := func(_ context.Context, _ string) (Conn, error) { return conn, nil }

	opts := testOptions(dial)
	opts.HeartbeatInterval = 20 * time.Millisecond

	m := NewManager(opts, nil)
	defer m.Disconnect()
	require.NoError(t, m.Connect())

	// Keep inbound traffic flowing so the liveness check stays satisfied.
	stopFeed := make(chan struct{})
	defer close(stopFeed)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopFeed:
				return
			case <-ticker.C:
				select {
				case conn.in <- []byte(`{"type":"price_update","timestamp":"t","data":{}}`):
				default:
				}
			}
		}
	}()

	require.Eventually(t, func() bool {
		return conn.sentCount() >= 2
	}, time.Second, 5*time.Millisecond, "pings must flow on the heartbeat interval")

	var ping domain.Ping
	require.NoError(t, json.Unmarshal(conn.sentFrame(0), &ping))
	assert.Equal(t, "ping", ping.Type)
	assert.Greater(t, ping.Timestamp, int64(0))
	assert.Equal(t, domain.StatusConnected, m.State().Status, "liveness is satisfied by inbound traffic")
}

func TestHeartbeatForcesReconnectAfterInboundSilence(t *testing.T) {
	var mu sync.Mutex
	var conns []*fakeConn
	dial := func(_ context.Context, _ string) (Conn, error) {
		c := newFakeConn()
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}

	opts := testOptions(dial)
	opts.HeartbeatInterval = 20 * time.Millisecond

	rec := &stateRecorder{}
	m := NewManager(opts, nil)
	m.OnStateChange(rec.record)
	defer m.Disconnect()

	require.NoError(t, m.Connect())

	// Feed nothing: silence past three heartbeat intervals must be treated
	// as a dead connection and redialed.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) >= 2
	}, 2*time.Second, 5*time.Millisecond, "silence must force a fresh dial")

	sawReconnecting := false
	for _, s := range rec.snapshot() {
		if s.Status == domain.StatusReconnecting {
			sawReconnecting = true
			assert.Contains(t, s.LastError, "heartbeat timeout")
		}
	}
	assert.True(t, sawReconnecting, "the forced reconnect must be published")
}

func TestConnectDuringBackoffDoesNotDoubleDial(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	allow := false
	dial := func(_ context.Context, _ string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if !allow {
			return nil, errors.New("dial refused")
		}
		return newFakeConn(), nil
	}

	opts := testOptions(dial)
	opts.BaseReconnectDelay = 100 * time.Millisecond
	opts.MaxReconnectDelay = 100 * time.Millisecond

	m := NewManager(opts, nil)
	defer m.Disconnect()

	_ = m.Connect() // dial fails, the backoff loop takes over
	require.Eventually(t, func() bool {
		return m.State().Status == domain.StatusReconnecting
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, m.Connect()) // mid-backoff: the running loop owns the session

	mu.Lock()
	assert.Equal(t, 1, dials, "a connect during backoff must not dial a second session")
	allow = true
	mu.Unlock()

	require.Eventually(t, func() bool {
		return m.State().Status == domain.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, dials, "only the reconnect loop's dial establishes the session")
}

func TestUnsubscribeStopsStateNotifications(t *testing.T) {
	conn := newFakeConn()
	dial := func(_ context.Context, _ string) (Conn, error) { return conn, nil }

	rec := &stateRecorder{}
	m := NewManager(testOptions(dial), nil)
	unsubscribe := m.OnStateChange(rec.record)
	unsubscribe()

	require.NoError(t, m.Connect())
	defer m.Disconnect()

	assert.Empty(t, rec.snapshot())
}
