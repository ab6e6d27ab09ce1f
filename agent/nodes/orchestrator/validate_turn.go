package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
)

var ErrInvalidMessage = errors.New("message is empty")

type GraphInput struct {
	Session *statex.Session
	Text    string
}

type GraphOutput struct {
	Reply contractx.Reply
}

// GraphState flows through every node of one turn. The session is locked by
// the caller for the whole run.
type GraphState struct {
	Session *statex.Session
	Text    string
	Now     time.Time

	Persona persona.Persona
	Logger  zerolog.Logger

	// Terminate is set by an end phrase or an end-of-session tool result.
	Terminate bool

	Reply         string
	Control       contractx.Control
	ToolFailed    bool
	CheckpointErr error
}

func ValidateTurn(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("%w: no session for turn", contractx.ErrSessionNotFound)
	}
	if in.Session.Ended() {
		return nil, fmt.Errorf("%w: %s", contractx.ErrSessionEnded, in.Session.ID)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	now := nowFn().UTC()
	in.Session.AppendTurn(statex.SpeakerUser, text, now)
	return &GraphState{
		Session: in.Session,
		Text:    text,
		Now:     now,
	}, nil
}
