package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/protocol"
	"github.com/gorilla/websocket"
)

// wsConn adapts a websocket connection to Conn
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) deadline() time.Time {
	return time.Now().Add(c.writeTimeout)
}

// WriteFrame implements Conn.WriteFrame
func (c *wsConn) WriteFrame(frame []byte) error {
	if err := c.ws.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// WritePing implements Conn.WritePing
func (c *wsConn) WritePing() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, c.deadline())
}

// Close implements Conn.Close
func (c *wsConn) Close(code int, reason string) error {
	// Best effort: the peer may already be gone
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), c.deadline())
	return c.ws.Close()
}

// checkOrigin accepts any origin unless allowed_origins is configured
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.config.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// requestToken reads the credential from the query string or the Authorization header
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return auth.BearerToken(r.Header.Get("Authorization"))
}

// HandleWebSocket authenticates the request, upgrades it and runs the session.
// A connection that fails authentication is told why and closed; it never
// becomes a session.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, authErr := s.verifier.Authenticate(requestToken(r))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := &wsConn{ws: ws, writeTimeout: s.config.WriteTimeout}

	if authErr != nil {
		s.metrics.RecordAuthFailure()
		debugLog.Printf("Rejected connection from %s: %v", ws.RemoteAddr(), authErr)
		s.rejectConnection(conn, authErr)
		return
	}

	sess := NewSession(identity, conn, s.config.SendQueueSize)
	debugLog.Printf("WebSocket connection from %s (session %s, user %s)", ws.RemoteAddr(), sess.ID, sess.Username)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		sess.writePump(s.config.PingInterval)
	}()

	// Registered before the first inbound frame is read
	s.connect(sess)

	go func() {
		defer s.wg.Done()
		s.messageLoop(sess, ws)
	}()
}

func (s *Server) rejectConnection(conn *wsConn, authErr error) {
	frame, err := protocol.EncodeEvent(protocol.EventAuthError, protocol.AuthErrorMessage{
		Message: "Authentication error: " + authErr.Error(),
	})
	if err == nil {
		if err := conn.WriteFrame(frame); err != nil {
			debugLog.Printf("Failed to send auth error: %v", err)
		}
	}
	conn.Close(protocol.CloseAuthFailed, "Authentication error")
}

// connect registers an authenticated session, replacing any earlier session
// of the same user, and announces the new presence.
func (s *Server) connect(sess *Session) {
	if err := s.sendEvent(sess, protocol.EventAuthenticated, protocol.AuthenticatedMessage{
		ID:       sess.UserID,
		Username: sess.Username,
	}); err != nil {
		debugLog.Printf("Session %s: failed to send authenticated: %v", sess.ID, err)
	}

	if prev := s.presence.Add(sess); prev != nil {
		debugLog.Printf("User %s logged in again, closing session %s", sess.Username, prev.ID)
		s.sendEvent(prev, protocol.EventSessionReplaced, protocol.SessionReplacedMessage{
			Message: "Logged in from another connection",
		})
		prev.Close(protocol.CloseSessionReplaced, "session replaced")
		s.metrics.RecordSessionReplaced()
	}

	s.metrics.RecordSessionCreated()
	s.metrics.RecordActiveSessions(s.presence.Count())

	s.broadcastOnline()
	s.broadcastUserList()
}

// disconnect closes a session and, if it still owns its presence entry,
// removes it and announces the change.
func (s *Server) disconnect(sess *Session, code int, reason string) {
	sess.Close(code, reason)

	if s.presence.RemoveSession(sess) {
		s.metrics.RecordActiveSessions(s.presence.Count())
		s.broadcastOnline()
	}
	s.metrics.RecordSessionDisconnected()
	debugLog.Printf("Session %s (%s) disconnected", sess.ID, sess.Username)
}

// messageLoop reads frames until the connection fails or the client logs out.
// Frames of one session are handled one at a time, in arrival order.
func (s *Server) messageLoop(sess *Session, ws *websocket.Conn) {
	code, reason := closeNormal, "bye"
	defer func() {
		s.disconnect(sess, code, reason)
	}()

	if s.config.MaxFrameBytes > 0 {
		ws.SetReadLimit(s.config.MaxFrameBytes)
	}

	// Keepalive: the peer must answer pings within two intervals
	if s.config.PingInterval > 0 {
		wait := 2 * s.config.PingInterval
		ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debugLog.Printf("Session %s read error: %v", sess.ID, err)
			}
			code, reason = closeGoingAway, "connection closed"
			return
		}
		if s.config.PingInterval > 0 {
			ws.SetReadDeadline(time.Now().Add(2 * s.config.PingInterval))
		}

		if !s.handleFrame(sess, data) {
			return
		}
	}
}
