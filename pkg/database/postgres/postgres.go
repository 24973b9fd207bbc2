// Package postgres is a PostgreSQL implementation of the chat store, for
// deployments that run more than one process against shared storage.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aeolun/allchat/pkg/database"
	"github.com/aeolun/allchat/pkg/database/postgres/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// DB is a PostgreSQL-backed store. It has the same method set as database.DB.
type DB struct {
	conn      *sql.DB
	snowflake *database.Snowflake
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Open connects to the database at dsn and applies pending migrations
func Open(ctx context.Context, dsn string, workerID int64) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := RunMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return New(conn, workerID), nil
}

// New wraps an existing connection pool. Migrations are not run.
// Processes sharing one database need distinct worker IDs.
func New(conn *sql.DB, workerID int64) *DB {
	return &DB{
		conn:      conn,
		snowflake: database.NewSnowflake(database.SnowflakeEpoch, workerID),
	}
}

// RunMigrations applies the embedded schema with goose
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, conn, ".")
}

// Close closes the connection pool
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateUser inserts a new account. Returns database.ErrUsernameTaken on duplicates.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*database.User, error) {
	user := &database.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UnixMilli(),
	}

	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO users (username, password, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, username, passwordHash, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, database.ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername returns an account by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*database.User, error) {
	user := &database.User{}
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, username, password, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every account (without password hashes), ordered by id
func (db *DB) ListUsers(ctx context.Context) ([]*database.User, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, username, created_at
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*database.User
	for rows.Next() {
		u := &database.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SaveBroadcastMessage appends an allchat message
func (db *DB) SaveBroadcastMessage(ctx context.Context, content string, senderID int64) (*database.BroadcastMessage, error) {
	id := db.snowflake.NextID()
	msg := &database.BroadcastMessage{
		ID:        id,
		Content:   content,
		SenderID:  senderID,
		CreatedAt: db.snowflake.TimestampFromID(id),
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO allchat_messages (id, content, sender_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.Content, msg.SenderID, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListBroadcastMessages returns the full allchat history, oldest first
func (db *DB) ListBroadcastMessages(ctx context.Context) ([]*database.BroadcastMessage, error) {
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

	var messages []*database.BroadcastMessage
	for rows.Next() {
		m := &database.BroadcastMessage{}
		if err := rows.Scan(&m.ID, &m.Content, &m.SenderID, &m.SenderUsername, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SavePrivateMessage appends a private message
func (db *DB) SavePrivateMessage(ctx context.Context, content string, senderID, recipientID int64) (*database.PrivateMessage, error) {
	id := db.snowflake.NextID()
	msg := &database.PrivateMessage{
		ID:          id,
		Content:     content,
		SenderID:    senderID,
		RecipientID: recipientID,
		CreatedAt:   db.snowflake.TimestampFromID(id),
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO private_messages (id, content, sender_id, recipient_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
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
func (db *DB) ListPrivateMessagesBetween(ctx context.Context, userA, userB int64) ([]*database.PrivateMessage, error) {
	rows, err := db.conn.QueryContext(ctx, privateSelect+`
		WHERE (pm.sender_id = $1 AND pm.recipient_id = $2)
		   OR (pm.sender_id = $2 AND pm.recipient_id = $1)
		ORDER BY pm.created_at ASC, pm.id ASC
	`, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrivateMessages(rows)
}

// ListPrivateMessagesForUser returns every private message the user sent or
// received, newest first
func (db *DB) ListPrivateMessagesForUser(ctx context.Context, userID int64) ([]*database.PrivateMessage, error) {
	rows, err := db.conn.QueryContext(ctx, privateSelect+`
		WHERE pm.sender_id = $1 OR pm.recipient_id = $1
		ORDER BY pm.created_at DESC, pm.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrivateMessages(rows)
}

func scanPrivateMessages(rows *sql.Rows) ([]*database.PrivateMessage, error) {
	var messages []*database.PrivateMessage
	for rows.Next() {
		m := &database.PrivateMessage{}
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
