package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/oklog/ulid/v2"
)

// HandleHistoryOpen reopens the saved chat named by "chat_id" as the active chat, ready for a
// follow-up prompt. A chat that is already open is only made active.
func (m Main) HandleHistoryOpen(w http.ResponseWriter, r *http.Request) {
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
	saved, ok := m.library.Get(id)
	if !ok {
		http.Error(w, errChatNotFound.Error(), http.StatusNotFound)
		return
	}

	sess := m.tabs.Reopen(history.Rehydrate(saved))
	m.logger.Info("Chat reopened", slog.String("chatID", id.String()))

	m.publishTabs()
	m.publishHistory()
	m.renderChatBox(w, sess)
}

// HandleHistoryDelete removes the saved chat named by "chat_id" from the history. An open chat
// with the same ID stays open and is saved again when its next reply finishes.
func (m Main) HandleHistoryDelete(w http.ResponseWriter, r *http.Request) {
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
	if !m.library.Remove(id) {
		http.Error(w, errChatNotFound.Error(), http.StatusNotFound)
		return
	}
	m.saver.Submit()
	m.logger.Info("Chat deleted", slog.String("chatID", id.String()))

	if err := m.templates.ExecuteTemplate(w, "history", m.historyData()); err != nil {
		m.logger.Error("Failed to render history", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
