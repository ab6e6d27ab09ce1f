package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	logx "github.com/tanpawarit/voice-persona-agents/pkg/logger"
)

// ResolvePersona loads the active persona. An id missing from the registry
// falls back to the default persona; the session keeps talking. Open already
// resolved the requested id, so the warning here only fires when a live
// session's persona has gone missing.
func ResolvePersona(in *GraphState, personas *persona.Registry) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	requested := in.Session.PersonaID
	p, fellBack := personas.Resolve(requested)
	in.Persona = p
	in.Logger = logx.ForSession(in.Session.ID, p.ID)
	if fellBack {
		in.Logger.Warn().Str("requested", requested).Msg("session persona missing, using default")
		in.Session.SwitchPersona(p.ID)
	}
	return in, nil
}
