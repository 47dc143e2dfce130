package chat

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/oklog/ulid/v2"
)

// Tabs is the list of open conversations. It exclusively owns its sessions: closing a tab drops the
// session, and a stream still delivering to it finds it gone on its next lookup.
type Tabs struct {
	mu sync.RWMutex

	sessions []*Session
	active   ulid.ULID
	opts     []Option
}

// NewTabs creates an empty tab list. The options are applied to every session it opens.
func NewTabs(opts ...Option) *Tabs {
	return &Tabs{opts: opts}
}

// Open creates a new session for model, appends it and makes it active.
func (t *Tabs) Open(model string) *Session {
	s := NewSession(model, t.opts...)
	t.Add(s)
	return s
}

// Reopen restores a saved conversation as a tab, or activates the tab already holding it.
func (t *Tabs) Reopen(saved models.SavedChat[*Output]) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = saved.ID
	if idx := t.index(saved.ID); idx >= 0 {
		return t.sessions[idx]
	}
	s := Restore(saved, t.opts...)
	t.sessions = append(t.sessions, s)
	return s
}

// Add appends a session and makes it active.
func (t *Tabs) Add(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions = append(t.sessions, s)
	t.active = s.ID()
}

// Get returns the open session with the given ID.
func (t *Tabs) Get(id ulid.ULID) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := t.index(id)
	if idx < 0 {
		return nil, false
	}
	return t.sessions[idx], true
}

// Close drops the session with the given ID. If it was active, its neighbour becomes active.
func (t *Tabs) Close(id ulid.ULID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.index(id)
	if idx < 0 {
		return false
	}
	t.sessions = slices.Delete(t.sessions, idx, idx+1)
	if t.active == id {
		t.active = ulid.ULID{}
		if len(t.sessions) > 0 {
			t.active = t.sessions[min(idx, len(t.sessions)-1)].ID()
		}
	}
	return true
}

// Select makes the session with the given ID active.
func (t *Tabs) Select(id ulid.ULID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.index(id) < 0 {
		return false
	}
	t.active = id
	return true
}

// Active returns the active session, if any tab is open.
func (t *Tabs) Active() (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := t.index(t.active)
	if idx < 0 {
		return nil, false
	}
	return t.sessions[idx], true
}

// List returns the open sessions in the order they were opened.
func (t *Tabs) List() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.sessions)
}

func (t *Tabs) index(id ulid.ULID) int {
	return slices.IndexFunc(t.sessions, func(s *Session) bool {
		return s.ID() == id
	})
}
