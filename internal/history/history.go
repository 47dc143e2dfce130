// Package history persists finished conversations and converts them between their live,
// segmented form and the flat form written to disk.
package history

import (
	"context"
	"errors"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/models"
)

// Store loads and saves the whole list of saved chats. Implementations replace the stored list
// atomically on Save: a reader never observes a partially written history.
type Store interface {
	Load(ctx context.Context) ([]models.SavedChat[string], error)
	Save(ctx context.Context, chats []models.SavedChat[string]) error
	Close() error
}

// ErrNotFound is returned when a chat is not in the history.
var ErrNotFound = errors.New("chat not found")

const errLoggerKey = "error"

// Flatten converts a live conversation into its storable form: every reply becomes its raw text.
func Flatten(c models.SavedChat[*chat.Output]) models.SavedChat[string] {
	return mapReplies(c, (*chat.Output).Raw)
}

// Rehydrate rebuilds the live form of a stored conversation by replaying every reply through a
// fresh segmenter. Flatten(Rehydrate(c)) equals c.
func Rehydrate(c models.SavedChat[string]) models.SavedChat[*chat.Output] {
	return mapReplies(c, chat.ParseOutput)
}

func mapReplies[A, B any](c models.SavedChat[A], fn func(A) B) models.SavedChat[B] {
	content := make([]models.Turn[B], 0, len(c.Content))
	for _, t := range c.Content {
		if t.IsQuery() {
			content = append(content, models.QueryTurn[B](*t.Query))
			continue
		}
		content = append(content, models.ReplyTurn(fn(*t.Reply)))
	}
	return models.SavedChat[B]{
		ID:      c.ID,
		Model:   c.Model,
		Content: content,
	}
}
