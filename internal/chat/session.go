// Package chat holds the per-conversation state machine and the streamed replies it owns.
package chat

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/oklog/ulid/v2"
)

// StateKind names the state a session is in.
type StateKind int

const (
	// KindPrompting is a session waiting for the user to send a prompt.
	KindPrompting StateKind = iota
	// KindGenerating is a session receiving a reply.
	KindGenerating
	// KindFinished is a session whose last reply has ended.
	KindFinished
)

func (k StateKind) String() string {
	switch k {
	case KindPrompting:
		return "prompting"
	case KindGenerating:
		return "generating"
	case KindFinished:
		return "finished"
	}
	return fmt.Sprintf("StateKind(%d)", int(k))
}

// State is one of Prompting, Generating or Finished.
type State interface {
	Kind() StateKind
}

// Prompting is the state of a session whose draft is being edited.
type Prompting struct {
	Draft string
}

// Generating is the state of a session receiving a reply to Prompt.
type Generating struct {
	Prompt string
	Start  time.Time
	Output *Output
}

// Finished is the state of a session whose last reply has ended. Saved holds the whole conversation
// including that reply. Err is set when the reply ended because the transport failed.
type Finished struct {
	Saved models.SavedChat[*Output]
	Start time.Time
	End   time.Time
	Err   error
}

// Kind implements State.
func (Prompting) Kind() StateKind { return KindPrompting }

// Kind implements State.
func (Generating) Kind() StateKind { return KindGenerating }

// Kind implements State.
func (Finished) Kind() StateKind { return KindFinished }

// Reporter receives the misuse of a session operation. Reported operations are no-ops. The reporter
// is called with the session locked and must not call back into it.
type Reporter func(sessionID ulid.ULID, err error)

// Option configures a Session.
type Option func(*Session)

// Session is the state machine of one open conversation: Prompting, then Generating while a reply
// streams in, then Finished, from which the user may continue with a follow-up prompt. Every turn
// of the conversation is kept in order. Operations called in the wrong state never panic and never
// change the state; they are reported and return a harmless zero value.
//
// A session is safe for concurrent use. Sessions share nothing with each other.
type Session struct {
	mu sync.Mutex

	id    ulid.ULID
	model string
	state State
	turns []models.Turn[*Output]

	report Reporter
	now    func() time.Time
}

// WithReporter sets the function receiving misused operations.
func WithReporter(r Reporter) Option {
	return func(s *Session) {
		s.report = r
	}
}

// WithLogger reports misused operations to logger.
func WithLogger(logger *slog.Logger) Option {
	return WithReporter(logReporter(logger))
}

// WithClock replaces the time source used for reply durations.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

func logReporter(logger *slog.Logger) Reporter {
	return func(id ulid.ULID, err error) {
		logger.Error("Illegal chat transition",
			slog.String("chatID", id.String()),
			slog.String(errLoggerKey, err.Error()))
	}
}

// NewSession creates a session for model with an empty draft and a fresh time-sortable ID.
func NewSession(model string, opts ...Option) *Session {
	return newSession(ulid.Make(), model, nil, opts)
}

// Restore reopens a saved conversation as a session ready for a follow-up prompt.
func Restore(saved models.SavedChat[*Output], opts ...Option) *Session {
	return newSession(saved.ID, saved.Model, slices.Clone(saved.Content), opts)
}

func newSession(id ulid.ULID, model string, turns []models.Turn[*Output], opts []Option) *Session {
	s := &Session{
		id:     id,
		model:  model,
		state:  Prompting{},
		turns:  turns,
		report: logReporter(slog.Default()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's identifier, which is also the ID of its saved chat.
func (s *Session) ID() ulid.ULID {
	return s.id
}

// Model returns the name of the model the session talks to.
func (s *Session) Model() string {
	return s.model
}

// Name returns the display name of the session, derived from its creation time.
func (s *Session) Name() string {
	return Name(s.id)
}

// Name returns the display name of a chat created at the time encoded in id.
func Name(id ulid.ULID) string {
	return "Chat " + ulid.Time(id.Time()).Local().Format("2006-01-02 15:04:05")
}

// State returns the current state. The Output of a Generating state is owned by the session and
// must not be modified by the caller.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Turns returns the turns completed so far.
func (s *Session) Turns() []models.Turn[*Output] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.turns)
}

// Saved returns the conversation log of the session.
func (s *Session) Saved() models.SavedChat[*Output] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saved()
}

func (s *Session) saved() models.SavedChat[*Output] {
	return models.SavedChat[*Output]{
		ID:      s.id,
		Model:   s.model,
		Content: slices.Clone(s.turns),
	}
}

// SetDraft replaces the draft prompt. It is only allowed while prompting.
func (s *Session) SetDraft(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.(type) {
	case Prompting:
		s.state = Prompting{Draft: text}
		return true
	case Generating, Finished:
	}
	s.misuse("set draft")
	return false
}

// SetGenerating sends the draft: the session starts generating a reply to it and the prompt is
// returned so the caller can dispatch it to the model. Called in any other state than prompting it
// returns an empty prompt and leaves the session unchanged.
func (s *Session) SetGenerating() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case Prompting:
		s.state = Generating{
			Prompt: st.Draft,
			Start:  s.now(),
			Output: NewOutput(),
		}
		return st.Draft
	case Generating, Finished:
	}
	s.misuse("set generating")
	return ""
}

// AddContent appends a chunk of the reply being generated.
func (s *Session) AddContent(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case Generating:
		st.Output.Add(text)
		return true
	case Prompting, Finished:
	}
	s.misuse("add content")
	return false
}

// SetFinish ends the reply being generated. The prompt and the reply are appended to the
// conversation log, which is returned.
func (s *Session) SetFinish() (models.SavedChat[*Output], bool) {
	return s.finish("set finish", nil)
}

// SetFailed ends the reply being generated because the transport failed. Whatever was received is
// kept in the conversation log exactly like SetFinish does, and err is recorded in the Finished
// state for display.
func (s *Session) SetFailed(err error) (models.SavedChat[*Output], bool) {
	return s.finish("set failed", err)
}

func (s *Session) finish(op string, err error) (models.SavedChat[*Output], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case Generating:
		s.turns = append(s.turns,
			models.QueryTurn[*Output](st.Prompt),
			models.ReplyTurn(st.Output))
		saved := s.saved()
		s.state = Finished{
			Saved: saved,
			Start: st.Start,
			End:   s.now(),
			Err:   err,
		}
		return saved, true
	case Prompting, Finished:
	}
	s.misuse(op)
	return models.SavedChat[*Output]{}, false
}

// Continue makes a finished session promptable again for a follow-up turn. The conversation log is
// kept.
func (s *Session) Continue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.(type) {
	case Finished:
		s.state = Prompting{}
		return true
	case Prompting, Generating:
	}
	s.misuse("continue")
	return false
}

// Conversation returns the messages to send to the model: every completed turn followed by the
// prompt being generated, if any.
func (s *Session) Conversation() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]models.Message, 0, len(s.turns)+1)
	for _, t := range s.turns {
		if t.IsQuery() {
			msgs = append(msgs, models.Message{Role: models.RoleUser, Content: *t.Query})
			continue
		}
		msgs = append(msgs, models.Message{Role: models.RoleAssistant, Content: (*t.Reply).Raw()})
	}
	if st, ok := s.state.(Generating); ok {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: st.Prompt})
	}
	return msgs
}

func (s *Session) misuse(op string) {
	s.report(s.id, &IllegalTransitionError{Op: op, State: s.state.Kind()})
}
