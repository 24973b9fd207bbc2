package server

import (
	"context"
	"fmt"
	"time"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/database"
	"github.com/aeolun/allchat/pkg/protocol"
)

// Router persists outgoing messages and delivers them to live sessions.
// Content reaching the router has already been validated.
type Router struct {
	store     MessageStore
	presence  *Presence
	directory *Directory
	metrics   *Metrics
}

// NewRouter creates a router over the given store and registries
func NewRouter(store MessageStore, presence *Presence, directory *Directory, metrics *Metrics) *Router {
	return &Router{
		store:     store,
		presence:  presence,
		directory: directory,
		metrics:   metrics,
	}
}

// resolve finds the user ID for a username, preferring the live session
func (r *Router) resolve(username string) (int64, error) {
	if sess, ok := r.presence.Lookup(username); ok {
		return sess.UserID, nil
	}
	if id, ok := r.directory.Lookup(username); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRecipient, username)
}

// SendBroadcast stores an allchat message and delivers it to every online
// session, the sender included. Nothing is delivered if the store fails.
func (r *Router) SendBroadcast(ctx context.Context, sender auth.Identity, content string) error {
	if _, err := r.store.SaveBroadcastMessage(ctx, content, sender.ID); err != nil {
		r.metrics.RecordStoreFailure("save_broadcast")
		return storeFailure("save broadcast message", err)
	}
	r.metrics.RecordMessagePersisted("broadcast")

	frame, err := protocol.EncodeEvent(protocol.EventBroadcastMessage, protocol.BroadcastMessage{
		Username: sender.Username,
		Content:  content,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	delivered := r.presence.Broadcast(frame)
	r.metrics.RecordDeliveryDuration("broadcast", time.Since(start).Seconds())
	r.metrics.RecordBroadcastFanout("broadcast", delivered)
	r.metrics.RecordMessagesSent(protocol.EventBroadcastMessage, delivered)

	debugLog.Printf("Broadcast from %s delivered to %d sessions", sender.Username, delivered)
	return nil
}

// SendPrivate stores a private message and delivers it live to the recipient
// if they are online. The sender gets no echo.
func (r *Router) SendPrivate(ctx context.Context, sender auth.Identity, recipient, content string) error {
	recipientID, err := r.resolve(recipient)
	if err != nil {
		return err
	}

	if _, err := r.store.SavePrivateMessage(ctx, content, sender.ID, recipientID); err != nil {
		r.metrics.RecordStoreFailure("save_private")
		return storeFailure("save private message", err)
	}
	r.metrics.RecordMessagePersisted("private")

	frame, err := protocol.EncodeEvent(protocol.EventPrivateMessage, protocol.PrivateMessage{
		Sender:    sender.Username,
		Recipient: recipient,
		Content:   content,
	})
	if err != nil {
		return err
	}

	// Presence is checked again at delivery time: the recipient may have
	// connected or left while the store write was in flight.
	if r.presence.Deliver(recipient, frame) {
		r.metrics.RecordMessagesSent(protocol.EventPrivateMessage, 1)
		debugLog.Printf("Private message %s -> %s delivered", sender.Username, recipient)
	} else {
		debugLog.Printf("Private message %s -> %s stored for later", sender.Username, recipient)
	}
	return nil
}

// BroadcastHistory returns every allchat message, oldest first
func (r *Router) BroadcastHistory(ctx context.Context) ([]protocol.HistoryEntry, error) {
	messages, err := r.store.ListBroadcastMessages(ctx)
	if err != nil {
		r.metrics.RecordStoreFailure("list_broadcast")
		return nil, storeFailure("list broadcast messages", err)
	}

	entries := make([]protocol.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, protocol.HistoryEntry{
			ID:        m.ID,
			Username:  m.SenderUsername,
			Content:   m.Content,
			Timestamp: time.UnixMilli(m.CreatedAt).UTC(),
		})
	}
	return entries, nil
}

// PrivateHistory returns the conversation between requester and withUser in
// both directions, oldest first.
func (r *Router) PrivateHistory(ctx context.Context, requester auth.Identity, withUser string) (*protocol.PrivateHistoryMessage, error) {
	otherID, err := r.resolve(withUser)
	if err != nil {
		return nil, err
	}

	messages, err := r.store.ListPrivateMessagesBetween(ctx, requester.ID, otherID)
	if err != nil {
		r.metrics.RecordStoreFailure("list_private_pair")
		return nil, storeFailure("list private messages", err)
	}

	return &protocol.PrivateHistoryMessage{
		WithUser: withUser,
		Messages: privateEntries(messages),
	}, nil
}

func privateEntries(messages []*database.PrivateMessage) []protocol.PrivateEntry {
	entries := make([]protocol.PrivateEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, privateEntry(m))
	}
	return entries
}

func privateEntry(m *database.PrivateMessage) protocol.PrivateEntry {
	return protocol.PrivateEntry{
		ID:                m.ID,
		SenderUsername:    m.SenderUsername,
		RecipientUsername: m.RecipientUsername,
		Content:           m.Content,
		Timestamp:         time.UnixMilli(m.CreatedAt).UTC(),
	}
}
