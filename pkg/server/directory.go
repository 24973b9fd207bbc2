package server

import (
	"sort"
	"sync"

	"github.com/aeolun/allchat/pkg/auth"
)

// Directory caches username -> user ID for every registered account.
// It is loaded once at startup and grows as accounts register; entries are
// never removed or overwritten.
type Directory struct {
	mu  sync.RWMutex
	ids map[string]int64
}

// NewDirectory returns an empty directory
func NewDirectory() *Directory {
	return &Directory{ids: make(map[string]int64)}
}

// Initialize loads the full account list. Existing entries are kept.
func (d *Directory) Initialize(users []auth.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range users {
		if _, exists := d.ids[u.Username]; !exists {
			d.ids[u.Username] = u.ID
		}
	}
}

// Lookup returns the user ID for a username
func (d *Directory) Lookup(username string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.ids[username]
	return id, ok
}

// Register adds a newly created account. Returns false if the username is
// already present, in which case the existing mapping is left unchanged.
func (d *Directory) Register(username string, id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.ids[username]; exists {
		return false
	}
	d.ids[username] = id
	return true
}

// Usernames returns a sorted snapshot of every registered username
func (d *Directory) Usernames() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.ids))
	for name := range d.ids {
		names = append(names, name)
	}
	d.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered accounts
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}
