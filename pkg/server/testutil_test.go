package server

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// initTestLoggers silences package loggers for the duration of a test
func initTestLoggers(t *testing.T) {
	t.Helper()
	prevErr, prevDebug := errorLog, debugLog
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	t.Cleanup(func() {
		errorLog, debugLog = prevErr, prevDebug
	})
}

// mockConn records what the write pump sends
type mockConn struct {
	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	closeReason string
	failWrites  bool
}

func (c *mockConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return io.ErrClosedPipe
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *mockConn) WritePing() error { return nil }

func (c *mockConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *mockConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

func (c *mockConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func testConfig() ServerConfig {
	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"
	cfg.PingInterval = 0
	cfg.StoreTimeout = 2 * time.Second
	cfg.SendQueueSize = 64
	return cfg
}

// newTestServer builds a server over a mock store without listening
func newTestServer(t *testing.T) (*Server, *mockDB) {
	t.Helper()
	initTestLoggers(t)

	db := newMockDB()
	s, err := NewServerWithStore(db, testConfig())
	require.NoError(t, err)
	t.Cleanup(s.cancel)
	return s, db
}

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// addUser registers an account in the store and the directory
func addUser(t *testing.T, s *Server, db *mockDB, username string) auth.Identity {
	t.Helper()
	u, err := db.CreateUser(s.ctx, username, "hash")
	require.NoError(t, err)
	require.True(t, s.directory.Register(u.Username, u.ID))
	return auth.Identity{ID: u.ID, Username: u.Username}
}

// connectUser creates a session for identity and registers it like an
// accepted websocket. No write pump runs; use drain to read queued frames.
func connectUser(t *testing.T, s *Server, identity auth.Identity) *Session {
	t.Helper()
	sess := NewSession(identity, &mockConn{}, s.config.SendQueueSize)
	s.connect(sess)
	return sess
}

// drain returns every frame queued on the session so far
func drain(t *testing.T, sess *Session) []*protocol.Envelope {
	t.Helper()
	var out []*protocol.Envelope
	for {
		select {
		case frame := <-sess.send:
			env, err := protocol.DecodeEnvelope(frame)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

// eventsNamed filters envelopes by event name
func eventsNamed(envs []*protocol.Envelope, event string) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, env := range envs {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func frameFor(t *testing.T, event string, payload interface{}) []byte {
	t.Helper()
	frame, err := protocol.EncodeEvent(event, payload)
	require.NoError(t, err)
	return frame
}

func decodeAs[T any](t *testing.T, env *protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.DecodePayload(&v))
	return v
}
