package server

import (
	"sort"
	"sync"
)

// Presence maps each online username to its single live session.
// All reads and writes go through one RWMutex; delivery to a named user holds
// the read lock across lookup and enqueue.
type Presence struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewPresence returns an empty registry
func NewPresence() *Presence {
	return &Presence{sessions: make(map[string]*Session)}
}

// Add registers a session under its username and returns the session it
// replaced, or nil.
func (p *Presence) Add(sess *Session) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.sessions[sess.Username]
	p.sessions[sess.Username] = sess
	if prev == sess {
		return nil
	}
	return prev
}

// Remove drops the entry for a username. Removing an absent user is a no-op.
func (p *Presence) Remove(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, username)
}

// RemoveSession drops the entry for sess.Username only if it still points at
// sess. Returns true if an entry was removed.
func (p *Presence) RemoveSession(sess *Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessions[sess.Username] != sess {
		return false
	}
	delete(p.sessions, sess.Username)
	return true
}

// Lookup returns the live session for a username
func (p *Presence) Lookup(username string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sess, ok := p.sessions[username]
	return sess, ok
}

// ListOnline returns a sorted snapshot of online usernames
func (p *Presence) ListOnline() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	p.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of online users
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Deliver queues a frame on the username's session if it is online.
// Returns false if the user is offline or the frame could not be queued.
func (p *Presence) Deliver(username string, frame []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sess, ok := p.sessions[username]
	if !ok {
		return false
	}
	return sess.Send(frame)
}

// Broadcast queues a frame on every online session and returns how many
// accepted it.
func (p *Presence) Broadcast(frame []byte) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	delivered := 0
	for _, sess := range p.sessions {
		if sess.Send(frame) {
			delivered++
		}
	}
	return delivered
}

// Sessions returns a snapshot of every registered session
func (p *Presence) Sessions() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sessions := make([]*Session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}
