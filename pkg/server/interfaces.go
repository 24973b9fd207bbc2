package server

import (
	"context"

	"github.com/aeolun/allchat/pkg/database"
	"github.com/aeolun/allchat/pkg/database/postgres"
)

// MessageStore is the durable log of broadcast and private messages.
// List operations return snapshots; ordering is by (created_at, id).
type MessageStore interface {
	SaveBroadcastMessage(ctx context.Context, content string, senderID int64) (*database.BroadcastMessage, error)
	ListBroadcastMessages(ctx context.Context) ([]*database.BroadcastMessage, error)
	SavePrivateMessage(ctx context.Context, content string, senderID, recipientID int64) (*database.PrivateMessage, error)
	ListPrivateMessagesBetween(ctx context.Context, userA, userB int64) ([]*database.PrivateMessage, error)
	ListPrivateMessagesForUser(ctx context.Context, userID int64) ([]*database.PrivateMessage, error)
}

// UserStore holds registered accounts
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*database.User, error)
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
	ListUsers(ctx context.Context) ([]*database.User, error)
}

// DatabaseStore defines the interface for database operations used by the server.
// *database.DB and *postgres.DB implement it; tests substitute an in-memory store.
type DatabaseStore interface {
	MessageStore
	UserStore

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ DatabaseStore = (*database.DB)(nil)
	_ DatabaseStore = (*postgres.DB)(nil)
)
