package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

// Lifecycle is the session state machine:
// awaiting-first-turn -> active -> ended, or straight to ended on disconnect.
type Lifecycle string

const (
	AwaitingFirstTurn Lifecycle = "awaiting-first-turn"
	Active            Lifecycle = "active"
	Ended             Lifecycle = "ended"
)

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

type Turn struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Session is one live conversation. Callers hold Lock for the duration of a
// turn so turns of the same session never overlap.
type Session struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id"`
	Lifecycle Lifecycle `json:"lifecycle"`
	TurnCount int       `json:"turn_count"`
	Turns     []Turn    `json:"turns,omitempty"`

	// Context is the persona-local reasoning history. It is dropped on handoff.
	Context []contractx.Message `json:"context,omitempty"`

	// Dirty is set when the domain record changed after the last flush.
	Dirty bool `json:"dirty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	mu sync.Mutex
}

func NewSession(id, personaID string, now time.Time) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidSession
	}
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return nil, fmt.Errorf("%w: persona id is empty", contractx.ErrValidation)
	}
	now = now.UTC()
	return &Session{
		ID:        id,
		PersonaID: personaID,
		Lifecycle: AwaitingFirstTurn,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) Ended() bool {
	return s.Lifecycle == Ended
}

// AppendTurn records an utterance. The first user turn activates the session.
func (s *Session) AppendTurn(speaker Speaker, text string, now time.Time) Turn {
	t := Turn{
		SessionID: s.ID,
		Seq:       len(s.Turns) + 1,
		Speaker:   speaker,
		Text:      text,
		At:        now.UTC(),
	}
	s.Turns = append(s.Turns, t)
	if speaker == SpeakerUser {
		s.TurnCount++
		if s.Lifecycle == AwaitingFirstTurn {
			s.Lifecycle = Active
		}
	}
	s.UpdatedAt = t.At
	return t
}

func (s *Session) Remember(msgs ...contractx.Message) {
	s.Context = append(s.Context, msgs...)
}

// SwitchPersona changes the active persona and discards persona-local context.
// The domain record is untouched.
func (s *Session) SwitchPersona(personaID string) {
	s.PersonaID = personaID
	s.Context = nil
}

func (s *Session) End(now time.Time) {
	s.Lifecycle = Ended
	s.UpdatedAt = now.UTC()
}

func (s *Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidSession
	}
	switch s.Lifecycle {
	case AwaitingFirstTurn, Active, Ended:
	default:
		return fmt.Errorf("%w: unknown lifecycle %q", contractx.ErrValidation, s.Lifecycle)
	}
	for i, t := range s.Turns {
		if t.Seq != i+1 {
			return fmt.Errorf("%w: turn %d has sequence %d", contractx.ErrValidation, i+1, t.Seq)
		}
	}
	return nil
}

// Sessions indexes live sessions by id.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{items: make(map[string]*Session)}
}

func (r *Sessions) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[s.ID]; exists {
		return fmt.Errorf("%w: session %s already exists", contractx.ErrValidation, s.ID)
	}
	r.items[s.ID] = s
	return nil
}

func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrSessionNotFound, id)
	}
	return s, nil
}

func (r *Sessions) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
}

func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// IDs returns the ids of every live session.
func (r *Sessions) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	return out
}
