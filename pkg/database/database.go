package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates no account exists for the username.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already exists")
)

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
	snowflake *Snowflake
}

// pragmas applied to every pooled connection via the DSN
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 && !strings.Contains(path, "?") {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

func openPool(path string, maxOpen, maxIdle int, lifetime time.Duration) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(lifetime)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// Open opens the SQLite database at the given path and applies pending migrations
func Open(path string) (*DB, error) {
	// WAL allows multiple readers and one writer at the same time
	conn, err := openPool(path, 25, 5, 5*time.Minute)
	if err != nil {
		return nil, err
	}

	// SQLite serializes writers; one pooled connection avoids SQLITE_BUSY churn
	writeConn, err := openPool(path, 1, 1, 0)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("write connection: %w", err)
	}

	if err := runMigrations(writeConn, path); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Message timestamps are taken from their snowflake IDs so that
	// created_at order and ID order always agree.
	// Single process so worker 0
	return &DB{
		conn:      conn,
		writeConn: writeConn,
		snowflake: NewSnowflake(SnowflakeEpoch, 0),
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// User represents an account record
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    int64 // Unix timestamp in milliseconds
}

// BroadcastMessage represents an allchat message record
type BroadcastMessage struct {
	ID             int64
	Content        string
	SenderID       int64
	SenderUsername string // Filled by list queries
	CreatedAt      int64  // Unix timestamp in milliseconds
}

// PrivateMessage represents a private message record
type PrivateMessage struct {
	ID                int64
	Content           string
	SenderID          int64
	RecipientID       int64
	SenderUsername    string // Filled by list queries
	RecipientUsername string // Filled by list queries
	CreatedAt         int64  // Unix timestamp in milliseconds
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateUser inserts a new account. Returns ErrUsernameTaken on duplicates.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	user := &User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    nowMillis(),
	}

	result, err := db.writeConn.ExecContext(ctx, `
		INSERT INTO users (username, password, created_at)
		VALUES (?, ?, ?)
	`, username, passwordHash, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	user.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByUsername returns an account by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, username, password, created_at
		FROM users
		WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every account (without password hashes), ordered by id
func (db *DB) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, username, created_at
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SaveBroadcastMessage appends an allchat message
func (db *DB) SaveBroadcastMessage(ctx context.Context, content string, senderID int64) (*BroadcastMessage, error) {
	id := db.snowflake.NextID()
	msg := &BroadcastMessage{
		ID:        id,
		Content:   content,
		SenderID:  senderID,
		CreatedAt: db.snowflake.TimestampFromID(id),
	}

	_, err := db.writeConn.ExecContext(ctx, `
		INSERT INTO allchat_messages (id, content, sender_id, created_at)
		VALUES (?, ?, ?, ?)
	`, msg.ID, msg.Content, msg.SenderID, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListBroadcastMessages returns the full allchat history, oldest first
func (db *DB) ListBroadcastMessages(ctx context.Context) ([]*BroadcastMessage, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.id, m.content, m.sender_id, u.username, m.created_at
		FROM allchat_messages m
		JOIN users u ON m.sender_id = u.id
		ORDER BY m.created_at ASC, m.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*BroadcastMessage
	for rows.Next() {
		m := &BroadcastMessage{}
		if err := rows.Scan(&m.ID, &m.Content, &m.SenderID, &m.SenderUsername, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SavePrivateMessage appends a private message
func (db *DB) SavePrivateMessage(ctx context.Context, content string, senderID, recipientID int64) (*PrivateMessage, error) {
	id := db.snowflake.NextID()
	msg := &PrivateMessage{
		ID:          id,
		Content:     content,
		SenderID:    senderID,
		RecipientID: recipientID,
		CreatedAt:   db.snowflake.TimestampFromID(id),
	}

	_, err := db.writeConn.ExecContext(ctx, `
		INSERT INTO private_messages (id, content, sender_id, recipient_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.Content, msg.SenderID, msg.RecipientID, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

const privateSelect = `
	SELECT pm.id, pm.content, pm.sender_id, pm.recipient_id,
	       sender.username, recipient.username, pm.created_at
	FROM private_messages pm
	JOIN users sender ON pm.sender_id = sender.id
	JOIN users recipient ON pm.recipient_id = recipient.id
`

// ListPrivateMessagesBetween returns messages exchanged by two users in
// either direction, oldest first
func (db *DB) ListPrivateMessagesBetween(ctx context.Context, userA, userB int64) ([]*PrivateMessage, error) {
	rows, err := db.conn.QueryContext(ctx, privateSelect+`
		WHERE (pm.sender_id = ? AND pm.recipient_id = ?)
		   OR (pm.sender_id = ? AND pm.recipient_id = ?)
		ORDER BY pm.created_at ASC, pm.id ASC
	`, userA, userB, userB, userA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrivateMessages(rows)
}

// ListPrivateMessagesForUser returns every private message the user sent or
// received, newest first
func (db *DB) ListPrivateMessagesForUser(ctx context.Context, userID int64) ([]*PrivateMessage, error) {
	rows, err := db.conn.QueryContext(ctx, privateSelect+`
		WHERE pm.sender_id = ? OR pm.recipient_id = ?
		ORDER BY pm.created_at DESC, pm.id DESC
	`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrivateMessages(rows)
}

func scanPrivateMessages(rows *sql.Rows) ([]*PrivateMessage, error) {
	var messages []*PrivateMessage
	for rows.Next() {
		m := &PrivateMessage{}
		if err := rows.Scan(
			&m.ID,
			&m.Content,
			&m.SenderID,
			&m.RecipientID,
			&m.SenderUsername,
			&m.RecipientUsername,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
