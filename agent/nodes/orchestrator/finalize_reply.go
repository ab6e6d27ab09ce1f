package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
)

const saveApology = "Sorry, I couldn't save that just now, but I still have it for this call."

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	text := strings.TrimSpace(in.Reply)
	if text == "" {
		text = "Sorry, could you say that again?"
	}
	if in.CheckpointErr != nil {
		text = sentences(saveApology, text)
	}
	in.Session.AppendTurn(statex.SpeakerAgent, text, in.Now)

	reply := contractx.Reply{
		Text:      text,
		PersonaID: in.Persona.ID,
		VoiceID:   in.Persona.VoiceID,
		ArcEnded:  in.Control.ArcEnded,
	}
	if next := in.Session.PersonaID; next != in.Persona.ID {
		reply.HandoffTo = next
	}
	return GraphOutput{Reply: reply}, nil
}
