package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/thinkmate"
	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/MegaGrindStone/thinkmate/internal/render"
	"github.com/MegaGrindStone/thinkmate/internal/settings"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a large language model that streams a reply to a conversation. It accepts a
// context, the model to use and the messages so far, returning an iterator that yields response
// chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[string, error]
}

// Main handles the core functionality of the chat application, managing server-sent events, HTML
// templates, and interactions between the LLM, the open chats and the saved history.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	html      render.HTML

	llm     LLM
	model   string
	tabs    *chat.Tabs
	library *history.Library
	saver   *history.Saver

	settingsDir string
	settings    *settingsState
	status      *statusState
	replies     *sync.Map

	ctx         context.Context
	generations *generations

	logger *slog.Logger
}

type settingsState struct {
	mu sync.RWMutex
	s  models.Settings
}

// generations tracks the replies being generated. Once closed, no reply can start.
type generations struct {
	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// begin registers a reply about to be generated, and reports false once the generations are closed.
// A successful begin must be matched by a call to wg.Done.
func (g *generations) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

// close stops every reply being generated and waits for them to be recorded.
func (g *generations) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
}

type statusState struct {
	mu        sync.RWMutex
	connected bool
	models    []string
}

const (
	chatsSSETopic         = "chats"
	statusSSETopic        = "status"
	notificationsSSETopic = "notifications"

	errLoggerKey = "error"
)

// SSE event types for real-time updates.
const (
	chatsSSEType        = "chats"
	historySSEType      = "history"
	statusSSEType       = "status"
	notificationSSEType = "notification"
	replySSEType        = "reply"
	replyDoneSSEType    = "replyDone"
)

// NewMain creates a new Main instance. Replies are generated by llm; new chats use model unless the
// request names another one. Finished chats are added to library and written through saver. The
// theme is read from the settings file in settingsDir.
func NewMain(
	llm LLM,
	model string,
	library *history.Library,
	saver *history.Saver,
	settingsDir string,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		thinkmate.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	s, _ := settings.Read(settingsDir)
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With(slog.String("module", "main"))

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				// We start with default topics that all clients should subscribe to
				topics := []string{sse.DefaultTopic, chatsSSETopic, statusSSETopic, notificationsSSETopic}

				// We create a reply-specific topic if the client requests updates for a particular reply
				replyID := s.Req.URL.Query().Get("reply_id")
				if replyID != "" {
					topics = append(topics, replyTopic(replyID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:   tmpl,
		html:        render.NewHTML(),
		llm:         llm,
		model:       model,
		tabs:        chat.NewTabs(chat.WithLogger(logger)),
		library:     library,
		saver:       saver,
		settingsDir: settingsDir,
		settings:    &settingsState{s: s},
		status:      &statusState{},
		replies:     &sync.Map{},
		ctx:         ctx,
		generations: &generations{cancel: cancel},
		logger:      logger,
	}, nil
}

func replyTopic(replyID string) string {
	return fmt.Sprintf("reply-%s", replyID)
}

// HandleSSE serves the event stream the pages subscribe to.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// SetStatus records the connection state of the model server and publishes it to every page.
// Names lists the models available on the server and becomes the choice offered for new chats.
func (m Main) SetStatus(connected bool, names []string) {
	m.status.mu.Lock()
	m.status.connected = connected
	m.status.models = slices.Clone(names)
	m.status.mu.Unlock()

	html, err := m.renderString("status", m.statusData())
	if err != nil {
		m.logger.Error("Failed to render status", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(statusSSEType, html, statusSSETopic)
}

// SetSettings replaces the settings in use, typically because another instance changed the
// settings file. Pages pick up the new theme on their next render.
func (m Main) SetSettings(s models.Settings) {
	m.settings.mu.Lock()
	changed := m.settings.s != s
	m.settings.s = s
	m.settings.mu.Unlock()

	if changed {
		m.logger.Info("Settings changed", slog.String("theme", string(s.Theme)))
	}
}

// SaveFailed tells every page that writing the history failed. The chats stay in memory and are
// written again with the next change.
func (m Main) SaveFailed(err error) {
	m.notify(fmt.Sprintf("Failed to save history: %s", err))
}

func (m Main) theme() models.Theme {
	m.settings.mu.RLock()
	defer m.settings.mu.RUnlock()

	return m.settings.s.Theme
}

func (m Main) notify(text string) {
	html, err := m.renderString("notification", notification{
		Text: text,
		Time: time.Now(),
	})
	if err != nil {
		m.logger.Error("Failed to render notification", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(notificationSSEType, html, notificationsSSETopic)
}

func (m Main) publish(typ, data, topic string) {
	msg := &sse.Message{Type: sse.Type(typ)}
	msg.AppendData(data)
	if err := m.sseSrv.Publish(msg, topic); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("type", typ),
			slog.String("topic", topic),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown stops every reply being generated, waits for them to be recorded, and gracefully
// terminates the SSE server. It broadcasts a close message to all connected clients and waits up to
// 5 seconds for connections to terminate. After the timeout, any remaining connections are
// forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.generations.close()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// Events without data are dropped by browsers, so the close event carries a payload
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
