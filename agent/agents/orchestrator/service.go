package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	nodex "github.com/tanpawarit/voice-persona-agents/agent/nodes/orchestrator"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
	logx "github.com/tanpawarit/voice-persona-agents/pkg/logger"
	metricsx "github.com/tanpawarit/voice-persona-agents/pkg/metrics"
)

var (
	ErrInvalidMessage  = nodex.ErrInvalidMessage
	ErrSessionNotFound = contractx.ErrSessionNotFound
	ErrSessionEnded    = contractx.ErrSessionEnded
)

type Config struct {
	ReasonTimeout time.Duration
	FlushTimeout  time.Duration
	MaxToolRounds int
	EndPhrases    []string
}

func (c Config) withDefaults() Config {
	if c.ReasonTimeout <= 0 {
		c.ReasonTimeout = nodex.DefaultReasonTimeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = nodex.DefaultFlushTimeout
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = nodex.DefaultMaxToolRounds
	}
	if len(c.EndPhrases) == 0 {
		c.EndPhrases = nodex.DefaultEndPhrases
	}
	return c
}

// RecognizedTurn is one utterance from the speech recognizer. Only final
// turns are handled.
type RecognizedTurn struct {
	Text    string
	IsFinal bool
}

type Deps struct {
	Personas *persona.Registry
	Records  *statex.DomainStore
	Sessions *statex.Sessions
	Reasoner contractx.Reasoner
	Tools    nodex.ToolInvoker
	Saver    nodex.RecordSaver
	Sink     contractx.SynthesisSink
	Metrics  *metricsx.Recorder
}

type Orchestrator struct {
	personas *persona.Registry
	records  *statex.DomainStore
	sessions *statex.Sessions
	reasoner contractx.Reasoner
	tools    nodex.ToolInvoker
	saver    nodex.RecordSaver
	sink     contractx.SynthesisSink
	metrics  *metricsx.Recorder

	cfg         Config
	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Personas == nil {
		return nil, errors.New("persona registry is required")
	}
	if deps.Reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if deps.Saver == nil {
		return nil, errors.New("record saver is required")
	}
	if deps.Records == nil {
		deps.Records = statex.NewDomainStore()
	}
	if deps.Sessions == nil {
		deps.Sessions = statex.NewSessions()
	}
	if deps.Sink == nil {
		deps.Sink = noopSink{}
	}

	o := &Orchestrator{
		personas: deps.Personas,
		records:  deps.Records,
		sessions: deps.Sessions,
		reasoner: deps.Reasoner,
		tools:    deps.Tools,
		saver:    deps.Saver,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// Open starts a session with the given persona, seeds the default record for
// its domain and speaks the greeting.
func (o *Orchestrator) Open(ctx context.Context, sessionID, personaID string) (*statex.Session, error) {
	p, fellBack := o.personas.Resolve(personaID)
	logger := logx.ForSession(sessionID, p.ID)
	if fellBack {
		logger.Warn().Str("requested", personaID).Msg("unknown persona, using default")
	}

	sess, err := statex.NewSession(sessionID, p.ID, o.now())
	if err != nil {
		return nil, err
	}
	if err := o.sessions.Add(sess); err != nil {
		return nil, err
	}
	if _, err := o.records.Reset(sess.ID, p.Domain); err != nil {
		o.sessions.Remove(sess.ID)
		return nil, fmt.Errorf("seed record: %w", err)
	}
	o.metrics.SessionOpened()

	if greeting := strings.TrimSpace(p.Greeting); greeting != "" {
		sess.Lock()
		sess.AppendTurn(statex.SpeakerAgent, greeting, o.now())
		sess.Unlock()
		o.speak(ctx, sess.ID, greeting, p.VoiceID)
	}
	logger.Info().Str("domain", string(p.Domain)).Msg("session opened")
	return sess, nil
}

// HandleTurn runs one recognized user turn through the turn graph. Turns of
// the same session are serialized.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, text string) (contractx.Reply, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return contractx.Reply{}, err
	}

	sess.Lock()
	defer sess.Unlock()

	personaID := sess.PersonaID
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		Session: sess,
		Text:    text,
	})
	if err != nil {
		return contractx.Reply{}, err
	}
	o.metrics.Turn(personaID)

	if out.Reply.Ended {
		o.release(sess.ID)
	}
	return out.Reply, nil
}

// OnRecognizedTurn is the ingestion hook of the speech pipeline. Partial
// transcripts are ignored; the reply of a final one is spoken in the voice of
// the persona that produced it.
func (o *Orchestrator) OnRecognizedTurn(ctx context.Context, sessionID, text string, isFinal bool) error {
	if !isFinal {
		return nil
	}
	reply, err := o.HandleTurn(ctx, sessionID, text)
	if errors.Is(err, ErrInvalidMessage) {
		return nil
	}
	if err != nil {
		return err
	}
	o.speak(ctx, sessionID, reply.Text, reply.VoiceID)
	return nil
}

// Run consumes recognized turns until the session ends, the channel closes or
// ctx is cancelled. The last two count as a disconnect.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, turns <-chan RecognizedTurn) error {
	for {
		select {
		case <-ctx.Done():
			o.Disconnect(context.WithoutCancel(ctx), sessionID)
			return ctx.Err()
		case turn, ok := <-turns:
			if !ok {
				o.Disconnect(ctx, sessionID)
				return nil
			}
			err := o.OnRecognizedTurn(ctx, sessionID, turn.Text, turn.IsFinal)
			if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionEnded) {
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					o.Disconnect(context.WithoutCancel(ctx), sessionID)
					return ctx.Err()
				}
				log.Error().Err(err).Str("session_id", sessionID).Msg("turn failed")
				o.speak(ctx, sessionID, turnFailedApology, o.voiceOf(sessionID))
			}
			if _, err := o.sessions.Get(sessionID); err != nil {
				return nil
			}
		}
	}
}

// Disconnect ends the session without a closing utterance and flushes a
// dirty record. It is safe to call more than once.
func (o *Orchestrator) Disconnect(ctx context.Context, sessionID string) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return
	}

	sess.Lock()
	defer sess.Unlock()
	if sess.Ended() {
		return
	}
	sess.End(o.now())
	logger := logx.ForSession(sess.ID, sess.PersonaID)

	if sess.Dirty {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FlushTimeout)
		if err := nodex.Flush(flushCtx, sess, o.records, o.saver, o.metrics); err != nil {
			logger.Error().Err(err).Msg("flush on disconnect failed")
		}
		cancel()
	}
	o.release(sess.ID)
	logger.Info().Int("turns", sess.TurnCount).Msg("session disconnected")
}

// Shutdown disconnects every live session.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, id := range o.sessions.IDs() {
		o.Disconnect(ctx, id)
	}
}

func (o *Orchestrator) Personas() []persona.Persona {
	return o.personas.List()
}

func (o *Orchestrator) release(sessionID string) {
	o.sessions.Remove(sessionID)
	o.records.Drop(sessionID)
	o.metrics.SessionClosed()
}

func (o *Orchestrator) voiceOf(sessionID string) string {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return o.personas.Default().VoiceID
	}
	p, _ := o.personas.Resolve(sess.PersonaID)
	return p.VoiceID
}

func (o *Orchestrator) speak(ctx context.Context, sessionID, text, voiceID string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := o.sink.Speak(ctx, sessionID, text, voiceID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("synthesis failed")
	}
}

const turnFailedApology = "Sorry, something went wrong on my side. Could you say that again?"

type noopSink struct{}

func (noopSink) Speak(context.Context, string, string, string) error { return nil }
