package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionState is the lifecycle state of a connection
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes for sessions closed by the server
const (
	closeNormal       = websocket.CloseNormalClosure
	closeGoingAway    = websocket.CloseGoingAway
	closeSlowConsumer = websocket.ClosePolicyViolation
	closeWriteFailed  = websocket.CloseAbnormalClosure
)

// Conn is the outbound side of a client connection. Only the session's
// write pump calls it, so implementations need not be safe for concurrent use.
type Conn interface {
	WriteFrame(frame []byte) error
	WritePing() error
	Close(code int, reason string) error
}

// Session is one authenticated client connection. Frames are queued with
// Send and written in order by a single write pump goroutine.
type Session struct {
	ID       string
	UserID   int64
	Username string
	JoinedAt time.Time

	conn  Conn
	send  chan []byte
	done  chan struct{}
	state atomic.Int32

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

// NewSession creates an authenticated session for a verified identity
func NewSession(identity auth.Identity, conn Conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultConfig().SendQueueSize
	}
	sess := &Session{
		ID:       uuid.NewString(),
		UserID:   identity.ID,
		Username: identity.Username,
		JoinedAt: time.Now(),
		conn:     conn,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
	sess.state.Store(int32(StateAuthenticated))
	return sess
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Done is closed once the session is closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send queues a frame for delivery. It never blocks: if the queue is full the
// session is closed as a slow consumer. Returns false if the frame was not queued.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		debugLog.Printf("Session %s (%s): send queue full, closing", s.ID, s.Username)
		s.Close(closeSlowConsumer, "send queue full")
		return false
	}
}

// Close moves the session to Closed. Frames already queued are flushed by the
// write pump before the connection is closed with the given code.
// Only the first call has any effect.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// writePump writes queued frames to the connection until the session closes.
// pingInterval <= 0 disables keepalive pings.
func (s *Session) writePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer func() {
		// done is closed here, so closeCode and closeReason are settled
		if err := s.conn.Close(s.closeCode, s.closeReason); err != nil {
			debugLog.Printf("Session %s: close error: %v", s.ID, err)
		}
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteFrame(frame); err != nil {
				debugLog.Printf("Session %s: write error: %v", s.ID, err)
				s.Close(closeWriteFailed, "write failed")
				return
			}
		case <-tick:
			if err := s.conn.WritePing(); err != nil {
				debugLog.Printf("Session %s: ping error: %v", s.ID, err)
				s.Close(closeWriteFailed, "ping failed")
				return
			}
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteFrame(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
