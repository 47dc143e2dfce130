package history

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/thinkmate/internal/models"
)

// Saver writes the history in the background. Submit never blocks on I/O: it only marks the history
// as changed, and the writer takes its snapshot from the source when it writes. Every write thus
// reflects all changes submitted before it started, and changes submitted while a write is running
// trigger one more. Failures are logged and passed to the error callback; they never affect the
// in-memory history.
type Saver struct {
	store   Store
	source  func() []models.SavedChat[string]
	onError func(error)
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending chan struct{}
	done    chan struct{}
}

// NewSaver starts a saver writing the chats returned by source to store. source must be safe to
// call concurrently with the callers of Submit. onError may be nil.
func NewSaver(store Store, source func() []models.SavedChat[string], logger *slog.Logger, onError func(error)) *Saver {
	s := &Saver{
		store:   store,
		source:  source,
		onError: onError,
		logger:  logger.With(slog.String("module", "history-saver")),
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit schedules the history to be written.
func (s *Saver) Submit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("Dropping history change submitted after close")
		return
	}
	select {
	case s.pending <- struct{}{}:
	default:
		// A write is already scheduled and has not taken its snapshot yet
	}
}

// Close writes the history if a change is still pending and stops the saver.
func (s *Saver) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.pending)
	}
	s.mu.Unlock()

	<-s.done
}

func (s *Saver) run() {
	defer close(s.done)

	for range s.pending {
		chats := s.source()
		if err := s.store.Save(context.Background(), chats); err != nil {
			s.logger.Error("Failed to save history",
				slog.Int("chats", len(chats)),
				slog.String(errLoggerKey, err.Error()))
			if s.onError != nil {
				s.onError(err)
			}
			continue
		}
		s.logger.Debug("History saved", slog.Int("chats", len(chats)))
	}
}
