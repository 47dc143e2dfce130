package history_test

import (
	"testing"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func savedChat(turns ...models.Turn[string]) models.SavedChat[string] {
	return models.SavedChat[string]{
		ID:      ulid.Make(),
		Model:   "llama3.2",
		Content: turns,
	}
}

func query(s string) models.Turn[string] { return models.QueryTurn[string](s) }
func reply(s string) models.Turn[string] { return models.ReplyTurn(s) }

func TestRoundTrip(t *testing.T) {
	replies := []string{
		"",
		"plain",
		"Hello world\n\n```python\nprint(1)\n``` done",
		"unterminated ```go\nfunc f() {",
		"\n\n\n\n",
		"``````",
		"a\n\n```\n\n```\n\nb",
		"日本語\n\n```\nコード\n```",
	}

	for _, r := range replies {
		s := savedChat(query("q"), reply(r), query("follow up"), reply(r+r))

		live := history.Rehydrate(s)
		got := history.Flatten(live)
		require.Equal(t, s, got, "reply %q", r)
	}
}

func TestRehydrateSegments(t *testing.T) {
	s := savedChat(query("show code"), reply("Sure:\n\n```sh\nls\n```\nbye"))

	live := history.Rehydrate(s)
	require.Len(t, live.Content, 2)
	assert.Equal(t, "show code", *live.Content[0].Query)

	out := *live.Content[1].Reply
	assert.Equal(t, []models.Segment{
		models.NormalSegment("Sure:"),
		models.CodeSegment("ls\n", "sh"),
	}, out.Segments())
	assert.Equal(t, "\nbye", out.Tail())
}

func TestFlattenLiveSession(t *testing.T) {
	s := chat.NewSession("m")
	s.SetDraft("hi")
	s.SetGenerating()
	chunks := []string{"one\n", "\ntwo ``", "`py\nx = 1", "\n```"}
	for _, c := range chunks {
		s.AddContent(c)
	}
	saved, ok := s.SetFinish()
	require.True(t, ok)

	flat := history.Flatten(saved)
	assert.Equal(t, s.ID(), flat.ID)
	assert.Equal(t, []models.Turn[string]{
		query("hi"),
		reply("one\n\ntwo ```py\nx = 1\n```"),
	}, flat.Content)
	assert.Equal(t, flat, history.Flatten(history.Rehydrate(flat)))
}

func TestLibrary(t *testing.T) {
	first := savedChat(query("first"))
	second := savedChat(query("second"))

	lib := history.NewLibrary([]models.SavedChat[string]{second, first})
	list := lib.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	updated := first
	updated.Content = append(updated.Content, reply("answer"))
	lib.Upsert(updated)
	got, ok := lib.Get(first.ID)
	require.True(t, ok)
	assert.Len(t, got.Content, 2)
	assert.Len(t, lib.List(), 2)

	third := savedChat(query("third"))
	lib.Upsert(third)
	assert.Equal(t, third.ID, lib.List()[2].ID)

	assert.True(t, lib.Remove(second.ID))
	assert.False(t, lib.Remove(second.ID))
	_, ok = lib.Get(second.ID)
	assert.False(t, ok)
	assert.Len(t, lib.List(), 2)
}

func TestDescription(t *testing.T) {
	long := "This prompt is definitely longer than forty characters in total"

	assert.Equal(t, "This prompt is definitely longer than fo", savedChat(query(long)).Description())
	assert.Equal(t, "short", savedChat(query("short")).Description())
	assert.Equal(t, "", savedChat().Description())
	assert.Equal(t, "", savedChat(reply("r")).Description())
}
