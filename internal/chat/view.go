package chat

import (
	"strings"
	"time"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
)

// Snapshot is a consistent copy of everything the presentation needs to draw a session.
type Snapshot struct {
	ID    ulid.ULID
	Name  string
	Model string
	Kind  StateKind

	// Draft would be filled if Kind is KindPrompting.
	Draft string

	// Turns lists the completed turns, followed by the prompt and the live reply when Kind is
	// KindGenerating.
	Turns []TurnView

	// GeneratedIn and Err describe the last reply when Kind is KindFinished.
	GeneratedIn string
	Err         error
}

// TurnView is the presentable form of a turn.
type TurnView struct {
	Role models.Role

	// Query would be filled if Role is models.RoleUser.
	Query string

	// Segments, Tail and InCode would be filled if Role is models.RoleAssistant.
	Segments []models.Segment
	Tail     string
	InCode   bool

	// Live is set on the reply being generated.
	Live bool
}

// Snapshot copies the session for presentation.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:    s.id,
		Name:  Name(s.id),
		Model: s.model,
		Kind:  s.state.Kind(),
		Turns: make([]TurnView, 0, len(s.turns)+2),
	}
	for _, t := range s.turns {
		if t.IsQuery() {
			snap.Turns = append(snap.Turns, queryView(*t.Query))
			continue
		}
		snap.Turns = append(snap.Turns, replyView(*t.Reply, false))
	}

	switch st := s.state.(type) {
	case Prompting:
		snap.Draft = st.Draft
	case Generating:
		snap.Turns = append(snap.Turns, queryView(st.Prompt), replyView(st.Output, true))
	case Finished:
		snap.GeneratedIn = GeneratedIn(st.Start, st.End)
		snap.Err = st.Err
	}
	return snap
}

// ReplyView returns the presentable form of the reply being generated, and false if the session is
// not generating.
func (s *Session) ReplyView() (TurnView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.(Generating)
	if !ok {
		return TurnView{}, false
	}
	return replyView(st.Output, true), true
}

func queryView(q string) TurnView {
	return TurnView{Role: models.RoleUser, Query: q}
}

func replyView(o *Output, live bool) TurnView {
	segs, tail := o.View()
	return TurnView{
		Role:     models.RoleAssistant,
		Segments: segs,
		Tail:     tail,
		InCode:   o.InCode(),
		Live:     live,
	}
}

// GeneratedIn describes how long a reply took, like "generated in 12 seconds".
func GeneratedIn(start, end time.Time) string {
	if end.Sub(start) < time.Second {
		return "generated in less than a second"
	}
	d := humanize.RelTime(start, end, "", "")
	return "generated in " + strings.TrimSpace(d)
}
