package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/MegaGrindStone/thinkmate/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	responses []string
	err       error

	mu       sync.Mutex
	received [][]models.Message
}

func (m *mockLLM) Chat(_ context.Context, _ string, messages []models.Message) iter.Seq2[string, error] {
	m.mu.Lock()
	m.received = append(m.received, messages)
	m.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

// streamLLM yields whatever is sent on chunks until it is closed or the request is cancelled.
type streamLLM struct {
	chunks chan string
}

func (s streamLLM) Chat(ctx context.Context, _ string, _ []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			select {
			case c, ok := <-s.chunks:
				if !ok {
					return
				}
				if !yield(c, nil) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

type testEnv struct {
	main  Main
	saver *history.Saver
	dir   string
}

func newTestEnv(t *testing.T, llm LLM, chats ...models.SavedChat[string]) testEnv {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	library := history.NewLibrary(chats)
	saver := history.NewSaver(history.NewFileStore(dir, logger), library.List, logger, nil)

	m, err := NewMain(llm, "llama3.2", library, saver, dir, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
		saver.Close()
	})
	return testEnv{main: m, saver: saver, dir: dir}
}

func (e testEnv) savedHistory(t *testing.T) []models.SavedChat[string] {
	t.Helper()

	e.saver.Close()
	return history.ReadHistory(filepath.Join(e.dir, history.FileName), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func post(h http.HandlerFunc, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func openChat(t *testing.T, m Main) *chat.Session {
	t.Helper()

	w := post(m.HandleChats, "/chats", url.Values{})
	require.Equal(t, http.StatusOK, w.Code)

	sess, ok := m.tabs.Active()
	require.True(t, ok)
	return sess
}

func TestNewMain(t *testing.T) {
	env := newTestEnv(t, &mockLLM{})

	assert.NoError(t, env.main.Shutdown(context.Background()))
}

func TestHandleHome(t *testing.T) {
	saved := chat.NewSession("llama3.2").Saved()
	saved.Content = append(saved.Content, models.QueryTurn[*chat.Output]("What is Go?"))
	env := newTestEnv(t, &mockLLM{}, history.Flatten(saved))
	open := openChat(t, env.main)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "What is Go?",
		},
		{
			name:       "Home page with chat",
			url:        "/?chat_id=" + open.ID().String(),
			wantStatus: http.StatusOK,
			wantBody:   open.Name(),
		},
		{
			name:       "Invalid chat",
			url:        "/?chat_id=nope",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown chat",
			url:        "/?chat_id=" + saved.ID.String(),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Unknown path",
			url:        "/favicon.ico",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			env.main.HandleHome(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestHandlePromptStreamsAndSaves(t *testing.T) {
	llm := &mockLLM{responses: []string{"Hello ", "world\n\n```go\nfmt.Println", "(1)\n```"}}
	env := newTestEnv(t, llm)
	m := env.main
	sess := openChat(t, m)

	w := post(m.HandlePrompt, "/chats/prompt", url.Values{
		"chat_id": {sess.ID().String()},
		"message": {"Say hi"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reply_id=")

	m.generations.wg.Wait()

	st, ok := sess.State().(chat.Finished)
	require.True(t, ok)
	assert.NoError(t, st.Err)

	saved, ok := m.library.Get(sess.ID())
	require.True(t, ok)
	assert.Equal(t, []models.Turn[string]{
		models.QueryTurn[string]("Say hi"),
		models.ReplyTurn("Hello world\n\n```go\nfmt.Println(1)\n```"),
	}, saved.Content)

	// A follow-up continues the finished chat with the whole conversation.
	w = post(m.HandlePrompt, "/chats/prompt", url.Values{
		"chat_id": {sess.ID().String()},
		"message": {"Again"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	m.generations.wg.Wait()

	llm.mu.Lock()
	require.Len(t, llm.received, 2)
	assert.Equal(t, []models.Message{
		{Role: models.RoleUser, Content: "Say hi"},
		{Role: models.RoleAssistant, Content: "Hello world\n\n```go\nfmt.Println(1)\n```"},
		{Role: models.RoleUser, Content: "Again"},
	}, llm.received[1])
	llm.mu.Unlock()

	saved, ok = m.library.Get(sess.ID())
	require.True(t, ok)
	assert.Len(t, saved.Content, 4)
	assert.Equal(t, []models.SavedChat[string]{saved}, env.savedHistory(t))
}

func TestHandlePromptFailureKeepsContent(t *testing.T) {
	env := newTestEnv(t, &mockLLM{
		responses: []string{"partial ", "answer"},
		err:       errors.New("connection reset"),
	})
	m := env.main
	sess := openChat(t, m)

	w := post(m.HandlePrompt, "/chats/prompt", url.Values{
		"chat_id": {sess.ID().String()},
		"message": {"Explain"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	m.generations.wg.Wait()

	st, ok := sess.State().(chat.Finished)
	require.True(t, ok)
	assert.ErrorContains(t, st.Err, "connection reset")

	saved, ok := m.library.Get(sess.ID())
	require.True(t, ok)
	assert.Equal(t, models.ReplyTurn("partial answer"), saved.Content[1])
}

func TestHandlePromptErrors(t *testing.T) {
	llm := streamLLM{chunks: make(chan string)}
	env := newTestEnv(t, llm)
	m := env.main
	sess := openChat(t, m)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Invalid chat",
			method:     http.MethodPost,
			form:       url.Values{"chat_id": {"nope"}, "message": {"hi"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown chat",
			method:     http.MethodPost,
			form:       url.Values{"chat_id": {chat.NewSession("m").ID().String()}, "message": {"hi"}},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			form:       url.Values{"chat_id": {sess.ID().String()}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/chats/prompt", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			m.HandlePrompt(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	form := url.Values{"chat_id": {sess.ID().String()}, "message": {"hi"}}
	require.Equal(t, http.StatusOK, post(m.HandlePrompt, "/chats/prompt", form).Code)
	assert.Equal(t, http.StatusConflict, post(m.HandlePrompt, "/chats/prompt", form).Code)

	close(llm.chunks)
	m.generations.wg.Wait()
	_, ok := sess.State().(chat.Finished)
	assert.True(t, ok)
}

func TestHandleCloseWhileGenerating(t *testing.T) {
	llm := streamLLM{chunks: make(chan string)}
	env := newTestEnv(t, llm)
	m := env.main
	sess := openChat(t, m)

	w := post(m.HandlePrompt, "/chats/prompt", url.Values{
		"chat_id": {sess.ID().String()},
		"message": {"Write a story"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	llm.chunks <- "Once upon"
	require.Eventually(t, func() bool {
		view, ok := sess.ReplyView()
		return ok && view.Tail == "Once upon"
	}, time.Second, 5*time.Millisecond)

	w = post(m.HandleClose, "/chats/close", url.Values{"chat_id": {sess.ID().String()}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, post(m.HandleClose, "/chats/close", url.Values{"chat_id": {sess.ID().String()}}).Code)

	// The next chunk is received after the close and stops the reply.
	llm.chunks <- " a time"
	m.generations.wg.Wait()

	saved, ok := m.library.Get(sess.ID())
	require.True(t, ok)
	assert.Equal(t, models.ReplyTurn("Once upon"), saved.Content[1])
}

func TestHandleContinue(t *testing.T) {
	env := newTestEnv(t, &mockLLM{responses: []string{"ok"}})
	m := env.main
	sess := openChat(t, m)
	form := url.Values{"chat_id": {sess.ID().String()}}

	assert.Equal(t, http.StatusConflict, post(m.HandleContinue, "/chats/continue", form).Code)

	form.Set("message", "hi")
	require.Equal(t, http.StatusOK, post(m.HandlePrompt, "/chats/prompt", form).Code)
	m.generations.wg.Wait()

	assert.Equal(t, http.StatusOK, post(m.HandleContinue, "/chats/continue", form).Code)
	_, ok := sess.State().(chat.Prompting)
	assert.True(t, ok)
}

func TestHandleHistory(t *testing.T) {
	first := chat.NewSession("llama3.2").Saved()
	first.Content = append(first.Content,
		models.QueryTurn[*chat.Output]("Show code"),
		models.ReplyTurn(chat.ParseOutput("Here:\n\n```sh\nls\n```")))
	second := chat.NewSession("llama3.2").Saved()
	second.Content = append(second.Content, models.QueryTurn[*chat.Output]("Other"))

	env := newTestEnv(t, &mockLLM{}, history.Flatten(first), history.Flatten(second))
	m := env.main

	w := post(m.HandleHistoryOpen, "/history/open", url.Values{"chat_id": {first.ID.String()}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Show code")

	sess, ok := m.tabs.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, history.Flatten(first), history.Flatten(sess.Saved()))

	w = post(m.HandleHistoryOpen, "/history/open", url.Values{"chat_id": {first.ID.String()}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, m.tabs.List(), 1)

	w = post(m.HandleHistoryDelete, "/history/delete", url.Values{"chat_id": {second.ID.String()}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "Other")
	assert.Equal(t, http.StatusNotFound,
		post(m.HandleHistoryDelete, "/history/delete", url.Values{"chat_id": {second.ID.String()}}).Code)
	assert.Equal(t, http.StatusNotFound,
		post(m.HandleHistoryOpen, "/history/open", url.Values{"chat_id": {second.ID.String()}}).Code)

	assert.Equal(t, []models.SavedChat[string]{history.Flatten(first)}, env.savedHistory(t))
}

func TestHandleSettings(t *testing.T) {
	env := newTestEnv(t, &mockLLM{})
	m := env.main

	assert.Equal(t, models.ThemeLight, m.theme())

	w := post(m.HandleSettings, "/settings", url.Values{"theme": {"Dark"}})
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "true", w.Header().Get("HX-Refresh"))
	assert.Equal(t, models.ThemeDark, m.theme())

	s, ok := settings.Read(env.dir)
	require.True(t, ok)
	assert.Equal(t, models.ThemeDark, s.Theme)

	w = post(m.HandleSettings, "/settings", url.Values{"theme": {"Solarized"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ThemeDark, m.theme())
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t, &mockLLM{})
	m := env.main

	m.SetStatus(true, []string{"llama3.2", "qwen2.5"})
	assert.Equal(t, status{Connected: true, Models: []string{"llama3.2", "qwen2.5"}, Model: "llama3.2"}, m.statusData())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	m.HandleHome(w, req)
	assert.Contains(t, w.Body.String(), "qwen2.5")

	m.SetStatus(false, nil)
	assert.False(t, m.statusData().Connected)
	m.SaveFailed(errors.New("disk full"))
}

func TestHandleChatsModel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	library := history.NewLibrary(nil)
	saver := history.NewSaver(history.NewFileStore(t.TempDir(), logger), library.List, logger, nil)
	t.Cleanup(saver.Close)

	m, err := NewMain(&mockLLM{}, "", library, saver, t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.Equal(t, http.StatusServiceUnavailable, post(m.HandleChats, "/chats", url.Values{}).Code)

	m.SetStatus(true, []string{"qwen2.5", "llama3.2"})
	require.Equal(t, http.StatusOK, post(m.HandleChats, "/chats", url.Values{}).Code)
	sess, ok := m.tabs.Active()
	require.True(t, ok)
	assert.Equal(t, "qwen2.5", sess.Model())

	require.Equal(t, http.StatusOK, post(m.HandleChats, "/chats", url.Values{"model": {"llama3.2"}}).Code)
	sess, ok = m.tabs.Active()
	require.True(t, ok)
	assert.Equal(t, "llama3.2", sess.Model())
	assert.Len(t, m.tabs.List(), 2)
}

// gateLLM replies "done" to every prompt once release is closed.
type gateLLM struct {
	release chan struct{}
}

func (g gateLLM) Chat(ctx context.Context, _ string, _ []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		select {
		case <-g.release:
			yield("done", nil)
		case <-ctx.Done():
		}
	}
}

func TestRepliesFinishingTogetherAreAllSaved(t *testing.T) {
	llm := gateLLM{release: make(chan struct{})}
	env := newTestEnv(t, llm)
	m := env.main

	sessions := make([]*chat.Session, 4)
	for i := range sessions {
		sessions[i] = openChat(t, m)
		w := post(m.HandlePrompt, "/chats/prompt", url.Values{
			"chat_id": {sessions[i].ID().String()},
			"message": {fmt.Sprintf("question %d", i)},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	close(llm.release)
	m.generations.wg.Wait()

	onDisk := env.savedHistory(t)
	require.Len(t, onDisk, len(sessions))
	for i, sess := range sessions {
		assert.Equal(t, sess.ID(), onDisk[i].ID)
		assert.Equal(t, models.ReplyTurn("done"), onDisk[i].Content[1])
	}
}

func TestHandlePromptAfterShutdown(t *testing.T) {
	env := newTestEnv(t, &mockLLM{responses: []string{"late"}})
	m := env.main
	sess := openChat(t, m)

	require.NoError(t, m.Shutdown(context.Background()))

	w := post(m.HandlePrompt, "/chats/prompt", url.Values{
		"chat_id": {sess.ID().String()},
		"message": {"hello"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	st, ok := sess.State().(chat.Prompting)
	require.True(t, ok)
	assert.Empty(t, st.Draft)
	_, saved := m.library.Get(sess.ID())
	assert.False(t, saved)
}
