package models

import (
	"encoding/json"
	"errors"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// SavedChat is the durable log of a conversation. The reply type T is string for the at-rest form
// written to the history file, and a live, re-segmented output for the in-memory form. The two forms
// are joined by explicit conversion functions rather than an interface, since they are never used in
// the same phase.
type SavedChat[T any] struct {
	ID      ulid.ULID `json:"id"`
	Model   string    `json:"model"`
	Content []Turn[T] `json:"content"`
}

// Turn is one entry of a conversation log: either the user's query or the model's reply. Exactly one
// of Query and Reply is set. The JSON form is the externally tagged object {"Query": ...} or
// {"Reply": ...}.
type Turn[T any] struct {
	Query *string `json:"Query,omitempty"`
	Reply *T      `json:"Reply,omitempty"`
}

// ErrInvalidTurn is returned when a decoded turn carries neither or both of Query and Reply.
var ErrInvalidTurn = errors.New("turn must hold exactly one of Query or Reply")

const descriptionLength = 40

// QueryTurn returns a turn holding the user's query.
func QueryTurn[T any](query string) Turn[T] {
	return Turn[T]{Query: &query}
}

// ReplyTurn returns a turn holding the model's reply.
func ReplyTurn[T any](reply T) Turn[T] {
	return Turn[T]{Reply: &reply}
}

// IsQuery reports whether the turn is a user query.
func (t Turn[T]) IsQuery() bool {
	return t.Query != nil
}

// UnmarshalJSON decodes a turn and rejects records that are not exactly one of the two variants.
func (t *Turn[T]) UnmarshalJSON(data []byte) error {
	var r struct {
		Query *string `json:"Query"`
		Reply *T      `json:"Reply"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if (r.Query == nil) == (r.Reply == nil) {
		return ErrInvalidTurn
	}
	t.Query, t.Reply = r.Query, r.Reply
	return nil
}

// Description returns a short label for the chat: the first query, truncated to 40 characters.
// Chats that don't start with a query have an empty description.
func (c SavedChat[T]) Description() string {
	if len(c.Content) == 0 || c.Content[0].Query == nil {
		return ""
	}
	q := *c.Content[0].Query
	if utf8.RuneCountInString(q) <= descriptionLength {
		return q
	}
	runes := []rune(q)
	return string(runes[:descriptionLength])
}
