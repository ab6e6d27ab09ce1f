package state

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

func TestSessionFirstUserTurnActivates(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, err := NewSession("s1", "robert", now)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if s.Lifecycle != AwaitingFirstTurn {
		t.Fatalf("lifecycle = %s", s.Lifecycle)
	}

	s.AppendTurn(SpeakerAgent, "hello", now)
	if s.Lifecycle != AwaitingFirstTurn || s.TurnCount != 0 {
		t.Fatalf("agent turn changed lifecycle=%s count=%d", s.Lifecycle, s.TurnCount)
	}

	turn := s.AppendTurn(SpeakerUser, "add milk", now)
	if s.Lifecycle != Active || s.TurnCount != 1 || turn.Seq != 2 {
		t.Fatalf("lifecycle=%s count=%d seq=%d", s.Lifecycle, s.TurnCount, turn.Seq)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestSessionSwitchPersonaDropsContext(t *testing.T) {
	t.Parallel()

	s, _ := NewSession("s1", "tutor-learn", time.Now())
	s.Remember(contractx.Message{Role: contractx.RoleUser, Content: "teach me loops"})
	s.SwitchPersona("tutor-quiz")
	if s.PersonaID != "tutor-quiz" || len(s.Context) != 0 {
		t.Fatalf("persona=%s context=%d", s.PersonaID, len(s.Context))
	}
}

func TestSessionsRegistry(t *testing.T) {
	t.Parallel()

	reg := NewSessions()
	s, _ := NewSession("s1", "robert", time.Now())
	if err := reg.Add(s); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Add(s); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("duplicate Add() error = %v", err)
	}
	reg.Remove("s1")
	if _, err := reg.Get("s1"); !errors.Is(err, contractx.ErrSessionNotFound) {
		t.Fatalf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestNewSessionRejectsEmptyID(t *testing.T) {
	t.Parallel()

	if _, err := NewSession("  ", "robert", time.Now()); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("NewSession() error = %v, want ErrInvalidSession", err)
	}
}
