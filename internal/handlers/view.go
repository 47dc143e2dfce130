package handlers

import (
	"fmt"
	"html/template"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
)

type homePageData struct {
	Tabs    []tab
	Chat    *chatBox
	History []historyItem
	Status  status
	Theme   models.Theme
	Themes  []models.Theme
}

type tab struct {
	ID   string
	Name string

	Active     bool
	Generating bool
}

type chatBox struct {
	ID    string
	Name  string
	Model string
	State string

	// Draft would be filled if State is "prompting".
	Draft string
	Turns []turn

	// ReplyID would be filled if State is "generating".
	ReplyID string

	GeneratedIn string
	Err         string
}

type turn struct {
	Role    string
	Query   string
	Content template.HTML
	Live    bool
}

type historyItem struct {
	ID          string
	Name        string
	Description string
	Model       string
	Age         string
	Open        bool
}

type status struct {
	Connected bool
	Models    []string
	Model     string
}

type notification struct {
	Text string
	Time time.Time
}

func (m Main) homeData() (homePageData, error) {
	data := homePageData{
		Tabs:    m.tabData(),
		History: m.historyData(),
		Status:  m.statusData(),
		Theme:   m.theme(),
		Themes:  models.Themes,
	}

	if sess, ok := m.tabs.Active(); ok {
		box, err := m.chatBoxData(sess)
		if err != nil {
			return homePageData{}, err
		}
		data.Chat = &box
	}
	return data, nil
}

func (m Main) tabData() []tab {
	active, _ := m.tabs.Active()

	sessions := m.tabs.List()
	tabs := make([]tab, len(sessions))
	for i, sess := range sessions {
		_, generating := sess.State().(chat.Generating)
		tabs[i] = tab{
			ID:         sess.ID().String(),
			Name:       sess.Name(),
			Active:     active != nil && active.ID() == sess.ID(),
			Generating: generating,
		}
	}
	return tabs
}

func (m Main) historyData() []historyItem {
	chats := m.library.List()
	slices.Reverse(chats)

	items := make([]historyItem, len(chats))
	for i, c := range chats {
		_, open := m.tabs.Get(c.ID)
		items[i] = historyItem{
			ID:          c.ID.String(),
			Name:        chat.Name(c.ID),
			Description: c.Description(),
			Model:       c.Model,
			Age:         humanize.Time(ulid.Time(c.ID.Time())),
			Open:        open,
		}
	}
	return items
}

func (m Main) statusData() status {
	m.status.mu.RLock()
	defer m.status.mu.RUnlock()

	return status{
		Connected: m.status.connected,
		Models:    slices.Clone(m.status.models),
		Model:     m.model,
	}
}

func (m Main) defaultModel() string {
	if m.model != "" {
		return m.model
	}

	m.status.mu.RLock()
	defer m.status.mu.RUnlock()

	if len(m.status.models) == 0 {
		return ""
	}
	return m.status.models[0]
}

func (m Main) chatBoxData(sess *chat.Session) (chatBox, error) {
	snap := sess.Snapshot()

	box := chatBox{
		ID:          snap.ID.String(),
		Name:        snap.Name,
		Model:       snap.Model,
		State:       snap.Kind.String(),
		Draft:       snap.Draft,
		Turns:       make([]turn, len(snap.Turns)),
		GeneratedIn: snap.GeneratedIn,
	}
	if snap.Err != nil {
		box.Err = snap.Err.Error()
	}
	if snap.Kind == chat.KindGenerating {
		if id, ok := m.replies.Load(snap.ID); ok {
			box.ReplyID = id.(string)
		}
	}

	for i, tv := range snap.Turns {
		t, err := m.turnData(tv)
		if err != nil {
			return chatBox{}, err
		}
		box.Turns[i] = t
	}
	return box, nil
}

func (m Main) turnData(tv chat.TurnView) (turn, error) {
	t := turn{
		Role:  string(tv.Role),
		Query: tv.Query,
		Live:  tv.Live,
	}
	if tv.Role != models.RoleAssistant {
		return t, nil
	}

	content, err := m.html.Reply(tv, m.theme())
	if err != nil {
		return turn{}, fmt.Errorf("failed to render reply: %w", err)
	}
	t.Content = content
	return t, nil
}

func (m Main) renderString(name string, data any) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}
