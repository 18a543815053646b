package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errTransportClosed = errors.New("mock transport closed")

type controlFrame struct {
	messageType int
	data        []byte
}

// closeCode extracts the status code from a close control frame.
func (f controlFrame) closeCode() int {
	if len(f.data) < 2 {
		return websocket.CloseNoStatusReceived
	}
	return int(binary.BigEndian.Uint16(f.data[:2]))
}

// mockTransport implements Transport for tests.
type mockTransport struct {
	mu        sync.Mutex
	written   [][]byte
	controls  []controlFrame
	pong      func(string) error
	readLimit int64
	stalled   bool
	failWrite bool

	inbound   chan []byte
	hangup    chan struct{}
	hangOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		inbound: make(chan []byte, 16),
		hangup:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (m *mockTransport) ReadMessage() (int, []byte, error) {
	select {
	case b := <-m.inbound:
		m.mu.Lock()
		limit := m.readLimit
		m.mu.Unlock()
		if limit > 0 && int64(len(b)) > limit {
			return 0, nil, websocket.ErrReadLimit
		}
		return websocket.TextMessage, b, nil
	case <-m.hangup:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-m.closed:
		return 0, nil, errTransportClosed
	}
}

func (m *mockTransport) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	stalled, fail := m.stalled, m.failWrite
	m.mu.Unlock()

	if stalled {
		<-m.closed
		return errTransportClosed
	}
	if fail || m.isClosed() {
		return errTransportClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errTransportClosed
	}
	m.controls = append(m.controls, controlFrame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (m *mockTransport) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *mockTransport) SetWriteDeadline(time.Time) error { return nil }

func (m *mockTransport) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pong = h
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockTransport) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// push queues an inbound client frame.
func (m *mockTransport) push(t *testing.T, frame any) {
	t.Helper()
	b, err := json.Marshal(frame)
	require.NoError(t, err)
	m.inbound <- b
}

// hangUp simulates the peer closing the connection.
func (m *mockTransport) hangUp() {
	m.hangOnce.Do(func() { close(m.hangup) })
}

func (m *mockTransport) stall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stalled = true
}

func (m *mockTransport) failWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = true
}

// reading reports whether the read pump has installed its handlers.
func (m *mockTransport) reading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pong != nil
}

func (m *mockTransport) firePong() {
	m.mu.Lock()
	h := m.pong
	m.mu.Unlock()
	if h != nil {
		_ = h("")
	}
}

type wireEnvelope struct {
	Event     EventType       `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func (m *mockTransport) envelopes(t *testing.T) []wireEnvelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wireEnvelope, 0, len(m.written))
	for _, b := range m.written {
		var env wireEnvelope
		require.NoError(t, json.Unmarshal(b, &env))
		out = append(out, env)
	}
	return out
}

func (m *mockTransport) eventsOf(t *testing.T, event EventType) []wireEnvelope {
	t.Helper()
	var out []wireEnvelope
	for _, env := range m.envelopes(t) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (m *mockTransport) controlsOf(messageType int) []controlFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []controlFrame
	for _, f := range m.controls {
		if f.messageType == messageType {
			out = append(out, f)
		}
	}
	return out
}

// tokenMap is a TokenVerifier where each token is the user it names.
type tokenMap map[string]string

func (m tokenMap) Verify(token string) (string, bool) {
	id, ok := m[token]
	return id, ok
}

// friendGraph is a symmetric friend list for presence and catch tests.
type friendGraph map[string][]string

func (g friendGraph) FriendsOf(_ context.Context, userID string) ([]string, error) {
	return g[userID], nil
}

type testHub struct {
	*Hub
	clock *clock.Mock
}

func newTestHub(t *testing.T, audience AudienceResolver, mutate ...func(*Options)) *testHub {
	t.Helper()
	mock := clock.NewMock()
	opts := Options{
		SendBufferSize:    16,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  75 * time.Second,
		Clock:             mock,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	verifier := tokenMap{"tok-u1": "u1", "tok-u2": "u2", "tok-u3": "u3", "tok-f1": "f1"}
	h := NewHub(opts, verifier, audience, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return &testHub{Hub: h, clock: mock}
}

// connect runs a handshake in the background and returns once the connection
// is registered.
func (h *testHub) connect(t *testing.T, token string) (*mockTransport, *Connection) {
	t.Helper()
	tr := newMockTransport()
	go func() { _ = h.Serve(tr, token) }()

	var conn *Connection
	require.Eventually(t, func() bool {
		conn = h.connectionFor(tr)
		return conn != nil
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(tr.eventsOf(t, EventConnected)) == 1 && tr.reading()
	}, time.Second, 5*time.Millisecond)
	return tr, conn
}

func (h *testHub) connectionFor(tr *mockTransport) *Connection {
	for _, c := range h.registry.Snapshot() {
		if c.transport == tr {
			return c
		}
	}
	return nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}
