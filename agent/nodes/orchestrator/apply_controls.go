package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	metricsx "github.com/tanpawarit/voice-persona-agents/pkg/metrics"
)

// ApplyControls folds the tool signals of the turn into the session. Ending
// the session wins over a handoff raised in the same turn. A handoff takes
// effect from the next turn.
func ApplyControls(in *GraphState, personas *persona.Registry, metrics *metricsx.Recorder) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	c := in.Control
	if c.EndSession {
		in.Terminate = true
	}
	if c.ArcEnded {
		in.Logger.Info().Msg("story arc ended")
	}
	if in.Terminate {
		if c.HandoffTo != "" {
			in.Logger.Info().Str("handoff_to", c.HandoffTo).Msg("session ending, handoff dropped")
		}
		return in, nil
	}

	if c.HandoffTo == "" || c.HandoffTo == in.Persona.ID {
		return in, nil
	}
	if err := personas.CanHandoff(in.Persona.ID, c.HandoffTo); err != nil {
		in.Logger.Warn().Err(err).Str("handoff_to", c.HandoffTo).Msg("handoff refused")
		return in, nil
	}
	in.Session.SwitchPersona(c.HandoffTo)
	metrics.Handoff(in.Persona.ID, c.HandoffTo)
	in.Logger.Info().Str("handoff_to", c.HandoffTo).Msg("persona handoff scheduled for next turn")
	return in, nil
}
