package history

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/oklog/ulid/v2"
)

// Library is the in-memory list of saved chats shown in the sidebar, ordered by chat ID and so by
// creation time.
type Library struct {
	mu    sync.RWMutex
	chats []models.SavedChat[string]
}

// NewLibrary creates a library holding chats.
func NewLibrary(chats []models.SavedChat[string]) *Library {
	l := &Library{chats: slices.Clone(chats)}
	l.sort()
	return l
}

// Upsert stores c, replacing the saved chat with the same ID.
func (l *Library) Upsert(c models.SavedChat[string]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if idx := l.index(c.ID); idx >= 0 {
		l.chats[idx] = c
		return
	}
	l.chats = append(l.chats, c)
	l.sort()
}

// Remove deletes the chat with the given ID.
func (l *Library) Remove(id ulid.ULID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.index(id)
	if idx < 0 {
		return false
	}
	l.chats = slices.Delete(l.chats, idx, idx+1)
	return true
}

// Get returns the chat with the given ID.
func (l *Library) Get(id ulid.ULID) (models.SavedChat[string], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.index(id)
	if idx < 0 {
		return models.SavedChat[string]{}, false
	}
	return l.chats[idx], true
}

// List returns a copy of every saved chat, oldest first.
func (l *Library) List() []models.SavedChat[string] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chats := make([]models.SavedChat[string], len(l.chats))
	for i, c := range l.chats {
		c.Content = slices.Clone(c.Content)
		chats[i] = c
	}
	return chats
}

func (l *Library) index(id ulid.ULID) int {
	return slices.IndexFunc(l.chats, func(c models.SavedChat[string]) bool {
		return c.ID == id
	})
}

func (l *Library) sort() {
	slices.SortFunc(l.chats, func(a, b models.SavedChat[string]) int {
		return a.ID.Compare(b.ID)
	})
}
