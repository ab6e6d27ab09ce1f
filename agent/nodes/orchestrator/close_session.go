package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
	metricsx "github.com/tanpawarit/voice-persona-agents/pkg/metrics"
)

const DefaultFlushTimeout = 10 * time.Second

const flushApology = "Sorry, I couldn't save everything just now. Our team will follow up."

// CloseSession ends the session, flushes a dirty record and speaks the
// closing summary. The flush runs on a detached context so a caller that has
// already gone away cannot abort it.
func CloseSession(
	ctx context.Context,
	in *GraphState,
	records RecordReader,
	saver RecordSaver,
	flushTimeout time.Duration,
	metrics *metricsx.Recorder,
) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	sess := in.Session
	sess.End(in.Now)

	var flushErr error
	if sess.Dirty || in.Control.Checkpoint {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		flushErr = Flush(flushCtx, sess, records, saver, metrics)
		cancel()
		if flushErr != nil {
			in.Logger.Error().Err(flushErr).Msg("final flush failed")
		}
	}

	summary := ""
	if rec, err := records.Get(sess.ID); err == nil {
		summary = rec.Summary()
	}
	text := sentences(in.Reply, summary, in.Persona.Closing)
	if flushErr != nil {
		text = sentences(text, flushApology)
	}
	if text == "" {
		text = "Goodbye."
	}
	sess.AppendTurn(statex.SpeakerAgent, text, in.Now)
	in.Logger.Info().Int("turns", sess.TurnCount).Msg("session ended")

	return GraphOutput{Reply: contractx.Reply{
		Text:      text,
		PersonaID: in.Persona.ID,
		VoiceID:   in.Persona.VoiceID,
		ArcEnded:  in.Control.ArcEnded,
		Ended:     true,
	}}, nil
}
