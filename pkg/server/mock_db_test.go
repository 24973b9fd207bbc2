package server

import (
	"context"
	"errors"
	"sync"

	"github.com/aeolun/allchat/pkg/database"
)

var errMockStore = errors.New("mock store unavailable")

// mockDB is an in-memory DatabaseStore with failure injection
type mockDB struct {
	mu        sync.Mutex
	users     map[int64]*database.User
	byName    map[string]int64
	broadcast []*database.BroadcastMessage
	private   []*database.PrivateMessage
	nextID    int64
	clock     int64 // ms, advanced on every save

	failSaves bool
	failLists bool

	// When privateGate is set, SavePrivateMessage signals privateStarted and
	// blocks until the gate is closed.
	privateGate    chan struct{}
	privateStarted chan struct{}
}

func newMockDB() *mockDB {
	return &mockDB{
		users:  make(map[int64]*database.User),
		byName: make(map[string]int64),
		nextID: 1,
		clock:  1_700_000_000_000,
	}
}

func (m *mockDB) setFailures(saves, lists bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = saves
	m.failLists = lists
}

func (m *mockDB) blockPrivateSaves() (started <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.privateGate = make(chan struct{})
	m.privateStarted = make(chan struct{}, 1)
	gate := m.privateGate
	return m.privateStarted, func() { close(gate) }
}

func (m *mockDB) privateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.private)
}

func (m *mockDB) broadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.broadcast)
}

func (m *mockDB) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *mockDB) tick() int64 {
	m.clock++
	return m.clock
}

func (m *mockDB) CreateUser(ctx context.Context, username, passwordHash string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves {
		return nil, errMockStore
	}
	if _, exists := m.byName[username]; exists {
		return nil, database.ErrUsernameTaken
	}
	u := &database.User{ID: m.id(), Username: username, PasswordHash: passwordHash, CreatedAt: m.tick()}
	m.users[u.ID] = u
	m.byName[username] = u.ID
	return u, nil
}

func (m *mockDB) GetUserByUsername(ctx context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[username]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *mockDB) ListUsers(ctx context.Context) ([]*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLists {
		return nil, errMockStore
	}
	users := make([]*database.User, 0, len(m.users))
	for id := int64(1); id < m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			users = append(users, &database.User{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt})
		}
	}
	return users, nil
}

func (m *mockDB) SaveBroadcastMessage(ctx context.Context, content string, senderID int64) (*database.BroadcastMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves {
		return nil, errMockStore
	}
	sender, ok := m.users[senderID]
	if !ok {
		return nil, errors.New("FOREIGN KEY constraint failed")
	}
	msg := &database.BroadcastMessage{
		ID:             m.id(),
		Content:        content,
		SenderID:       senderID,
		SenderUsername: sender.Username,
		CreatedAt:      m.tick(),
	}
	m.broadcast = append(m.broadcast, msg)
	return msg, nil
}

func (m *mockDB) ListBroadcastMessages(ctx context.Context) ([]*database.BroadcastMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLists {
		return nil, errMockStore
	}
	out := make([]*database.BroadcastMessage, len(m.broadcast))
	copy(out, m.broadcast)
	return out, nil
}

func (m *mockDB) SavePrivateMessage(ctx context.Context, content string, senderID, recipientID int64) (*database.PrivateMessage, error) {
	m.mu.Lock()
	gate, started := m.privateGate, m.privateStarted
	m.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves {
		return nil, errMockStore
	}
	sender, ok := m.users[senderID]
	recipient, ok2 := m.users[recipientID]
	if !ok || !ok2 {
		return nil, errors.New("FOREIGN KEY constraint failed")
	}
	msg := &database.PrivateMessage{
		ID:                m.id(),
		Content:           content,
		SenderID:          senderID,
		RecipientID:       recipientID,
		SenderUsername:    sender.Username,
		RecipientUsername: recipient.Username,
		CreatedAt:         m.tick(),
	}
	m.private = append(m.private, msg)
	return msg, nil
}

func (m *mockDB) ListPrivateMessagesBetween(ctx context.Context, userA, userB int64) ([]*database.PrivateMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLists {
		return nil, errMockStore
	}
	var out []*database.PrivateMessage
	for _, msg := range m.private {
		if (msg.SenderID == userA && msg.RecipientID == userB) || (msg.SenderID == userB && msg.RecipientID == userA) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockDB) ListPrivateMessagesForUser(ctx context.Context, userID int64) ([]*database.PrivateMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLists {
		return nil, errMockStore
	}
	var out []*database.PrivateMessage
	for i := len(m.private) - 1; i >= 0; i-- {
		msg := m.private[i]
		if msg.SenderID == userID || msg.RecipientID == userID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockDB) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLists {
		return errMockStore
	}
	return nil
}

func (m *mockDB) Close() error {
	return nil
}

var _ DatabaseStore = (*mockDB)(nil)
