package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var errChatNotFound = errors.New("chat not found")

// HandleHome renders the page with the open chats, the saved history and the active chat. An
// optional "chat_id" query parameter selects which open chat is active.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
		id, err := ulid.ParseStrict(chatID)
		if err != nil {
			http.Error(w, "Invalid chat_id", http.StatusBadRequest)
			return
		}
		if !m.tabs.Select(id) {
			http.Error(w, errChatNotFound.Error(), http.StatusNotFound)
			return
		}
	}

	data, err := m.homeData()
	if err != nil {
		m.logger.Error("Failed to prepare home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChats opens a new chat and makes it active. The optional "model" form field overrides the
// configured model, which itself falls back to the first model the server lists.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	model := r.FormValue("model")
	if model == "" {
		model = m.defaultModel()
	}
	if model == "" {
		http.Error(w, "No model available", http.StatusServiceUnavailable)
		return
	}
	sess := m.tabs.Open(model)
	m.logger.Info("Chat opened",
		slog.String("chatID", sess.ID().String()),
		slog.String("model", model))

	m.publishTabs()
	m.renderChatBox(w, sess)
}

// HandlePrompt sends the "message" form field as the next prompt of the chat named by "chat_id"
// and starts streaming the reply. A finished chat is continued first. The reply is pushed through
// the "reply-<id>" SSE topic as it arrives.
func (m Main) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.openChat(w, r)
	if !ok {
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	// Registering the reply before any transition leaves the chat untouched when the server is
	// shutting down
	if !m.generations.begin() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	started := false
	defer func() {
		if !started {
			m.generations.wg.Done()
		}
	}()

	switch sess.State().(type) {
	case chat.Generating:
		http.Error(w, "Chat is generating a reply", http.StatusConflict)
		return
	case chat.Finished:
		sess.Continue()
	case chat.Prompting:
	}

	if !sess.SetDraft(msg) {
		http.Error(w, "Chat is generating a reply", http.StatusConflict)
		return
	}
	if sess.SetGenerating() == "" {
		http.Error(w, "Chat is generating a reply", http.StatusConflict)
		return
	}

	replyID := uuid.New().String()
	m.replies.Store(sess.ID(), replyID)

	// The page is rendered in the generating state before the first chunk can finish the reply
	m.publishTabs()
	m.renderChatBox(w, sess)

	started = true
	go m.generate(sess, replyID, sess.Conversation())
}

// HandleClose closes the chat named by "chat_id". A reply still being generated for it stops.
func (m Main) HandleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := ulid.ParseStrict(r.FormValue("chat_id"))
	if err != nil {
		http.Error(w, "Invalid chat_id", http.StatusBadRequest)
		return
	}
	if !m.tabs.Close(id) {
		http.Error(w, errChatNotFound.Error(), http.StatusNotFound)
		return
	}
	m.logger.Info("Chat closed", slog.String("chatID", id.String()))

	m.publishTabs()
	m.publishHistory()

	sess, _ := m.tabs.Active()
	m.renderChatBox(w, sess)
}

// HandleContinue makes the finished chat named by "chat_id" ready for a follow-up prompt.
func (m Main) HandleContinue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.openChat(w, r)
	if !ok {
		return
	}
	if !sess.Continue() {
		http.Error(w, "Chat has no finished reply", http.StatusConflict)
		return
	}
	m.renderChatBox(w, sess)
}

// openChat finds the open chat named by the "chat_id" form field and makes it active. It writes the
// error response itself when there is none.
func (m Main) openChat(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	id, err := ulid.ParseStrict(r.FormValue("chat_id"))
	if err != nil {
		http.Error(w, "Invalid chat_id", http.StatusBadRequest)
		return nil, false
	}
	sess, ok := m.tabs.Get(id)
	if !ok {
		http.Error(w, errChatNotFound.Error(), http.StatusNotFound)
		return nil, false
	}
	m.tabs.Select(id)
	return sess, true
}

func (m Main) generate(sess *chat.Session, replyID string, messages []models.Message) {
	defer m.generations.wg.Done()
	defer m.replies.CompareAndDelete(sess.ID(), replyID)

	logger := m.logger.With(
		slog.String("chatID", sess.ID().String()),
		slog.String("replyID", replyID))
	topic := replyTopic(replyID)

	var streamErr error
	for content, err := range m.llm.Chat(m.ctx, sess.Model(), messages) {
		if err != nil {
			logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			streamErr = err
			break
		}
		if _, open := m.tabs.Get(sess.ID()); !open {
			logger.Info("Chat closed while generating, stopping reply")
			break
		}

		sess.AddContent(content)
		m.publishReply(sess, topic, logger)
	}

	var (
		saved models.SavedChat[*chat.Output]
		ok    bool
	)
	if streamErr != nil {
		saved, ok = sess.SetFailed(streamErr)
	} else {
		saved, ok = sess.SetFinish()
	}
	if !ok {
		return
	}

	m.library.Upsert(history.Flatten(saved))
	m.saver.Submit()

	if streamErr != nil {
		m.notify("Reply failed: " + streamErr.Error())
	}

	box, err := m.chatBoxData(sess)
	if err != nil {
		logger.Error("Failed to prepare chat", slog.String(errLoggerKey, err.Error()))
		return
	}
	html, err := m.renderString("chatbox", &box)
	if err != nil {
		logger.Error("Failed to render chat", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(replyDoneSSEType, html, topic)
	m.publishTabs()
	m.publishHistory()
}

func (m Main) publishReply(sess *chat.Session, topic string, logger *slog.Logger) {
	view, ok := sess.ReplyView()
	if !ok {
		return
	}
	t, err := m.turnData(view)
	if err != nil {
		logger.Error("Failed to render reply", slog.String(errLoggerKey, err.Error()))
		return
	}
	html, err := m.renderString("reply", t)
	if err != nil {
		logger.Error("Failed to render reply", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(replySSEType, html, topic)
}

func (m Main) publishTabs() {
	html, err := m.renderString("tabs", m.tabData())
	if err != nil {
		m.logger.Error("Failed to render tabs", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(chatsSSEType, html, chatsSSETopic)
}

func (m Main) publishHistory() {
	html, err := m.renderString("history", m.historyData())
	if err != nil {
		m.logger.Error("Failed to render history", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(historySSEType, html, chatsSSETopic)
}

// renderChatBox writes the chatbox of sess, or the empty chatbox if sess is nil.
func (m Main) renderChatBox(w http.ResponseWriter, sess *chat.Session) {
	var box *chatBox
	if sess != nil {
		b, err := m.chatBoxData(sess)
		if err != nil {
			m.logger.Error("Failed to prepare chat", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		box = &b
	}
	if err := m.templates.ExecuteTemplate(w, "chatbox", box); err != nil {
		m.logger.Error("Failed to render chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
