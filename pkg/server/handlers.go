package server

import (
	"errors"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/protocol"
)

// handleFrame decodes and dispatches one inbound frame. It returns false when
// the session should end.
func (s *Server) handleFrame(sess *Session, data []byte) bool {
	if sess.State() != StateAuthenticated {
		return false
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		debugLog.Printf("Session %s: bad frame: %v", sess.ID, err)
		s.sendError(sess, "", protocol.ErrCodeInvalidFormat, "Invalid message format")
		return true
	}

	s.metrics.RecordMessageReceived(env.Event)
	debugLog.Printf("Session %s ← RECV: %s (%d bytes)", sess.ID, env.Event, len(env.Data))

	if env.Event == protocol.EventLogout {
		debugLog.Printf("Session %s (%s) logged out", sess.ID, sess.Username)
		return false
	}

	if err := s.handleEvent(sess, env); err != nil {
		s.reportError(sess, env.Event, err)
	}
	return true
}

// handleEvent dispatches an envelope to the handler for its event
func (s *Server) handleEvent(sess *Session, env *protocol.Envelope) error {
	switch env.Event {
	case protocol.EventSendBroadcast:
		return s.handleSendBroadcast(sess, env)
	case protocol.EventRequestBroadcast:
		return s.handleBroadcastHistory(sess)
	case protocol.EventSendPrivate:
		return s.handleSendPrivate(sess, env)
	case protocol.EventRequestPrivate:
		return s.handlePrivateHistory(sess, env)
	case protocol.EventRequestPreviews:
		return s.handlePreviews(sess)
	default:
		return s.sendError(sess, env.Event, protocol.ErrCodeUnknownEvent, "Unsupported event")
	}
}

// reportError logs a failed request and tells the requester. No other
// session sees it.
func (s *Server) reportError(sess *Session, event string, err error) {
	if errors.Is(err, ErrStoreFailure) {
		errorLog.Printf("Session %s (%s): %s failed: %v", sess.ID, sess.Username, event, err)
	} else {
		debugLog.Printf("Session %s (%s): %s rejected: %v", sess.ID, sess.Username, event, err)
	}

	if sendErr := s.sendError(sess, event, errorCode(err), errorText(err)); sendErr != nil {
		debugLog.Printf("Session %s: failed to report error: %v", sess.ID, sendErr)
	}
}

func identityOf(sess *Session) auth.Identity {
	return auth.Identity{ID: sess.UserID, Username: sess.Username}
}

func (s *Server) handleSendBroadcast(sess *Session, env *protocol.Envelope) error {
	var msg protocol.SendBroadcastMessage
	if err := env.DecodePayload(&msg); err != nil {
		return err
	}

	content, err := protocol.ValidateContent(msg.Content, s.config.MaxMessageLength)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	return s.router.SendBroadcast(ctx, identityOf(sess), content)
}

func (s *Server) handleBroadcastHistory(sess *Session) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	entries, err := s.router.BroadcastHistory(ctx)
	if err != nil {
		return err
	}
	return s.sendEvent(sess, protocol.EventBroadcastHistory, entries)
}

func (s *Server) handleSendPrivate(sess *Session, env *protocol.Envelope) error {
	var msg protocol.SendPrivateMessage
	if err := env.DecodePayload(&msg); err != nil {
		return err
	}

	content, err := protocol.ValidateContent(msg.Content, s.config.MaxMessageLength)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	return s.router.SendPrivate(ctx, identityOf(sess), msg.Recipient, content)
}

func (s *Server) handlePrivateHistory(sess *Session, env *protocol.Envelope) error {
	var msg protocol.RequestPrivateHistoryMessage
	if err := env.DecodePayload(&msg); err != nil {
		return err
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	history, err := s.router.PrivateHistory(ctx, identityOf(sess), msg.WithUser)
	if err != nil {
		return err
	}
	return s.sendEvent(sess, protocol.EventPrivateHistory, history)
}

func (s *Server) handlePreviews(sess *Session) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	previews, err := s.router.RecentPreviews(ctx, identityOf(sess))
	if err != nil {
		return err
	}
	return s.sendEvent(sess, protocol.EventPrivatePreviews, previews)
}
