package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
	"github.com/tanpawarit/voice-persona-agents/agent/tool"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// scriptedReasoner answers each Complete call with the next scripted step.
type scriptedReasoner struct {
	mu    sync.Mutex
	steps []step
	reqs  []contractx.ReasoningRequest
	block bool
}

type step struct {
	text  string
	calls []contractx.ToolRequest
}

func prose(text string) step { return step{text: text} }

func callTools(calls ...contractx.ToolRequest) step { return step{calls: calls} }

func call(name string, args map[string]any) contractx.ToolRequest {
	return contractx.ToolRequest{ID: "call_" + name, Tool: name, Args: args}
}

func (r *scriptedReasoner) Complete(ctx context.Context, req contractx.ReasoningRequest) (contractx.ReasoningResponse, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	block := r.block
	var next step
	ok := len(r.steps) > 0
	if ok {
		next, r.steps = r.steps[0], r.steps[1:]
	}
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return contractx.ReasoningResponse{}, ctx.Err()
	}
	if !ok {
		return contractx.ReasoningResponse{}, errors.New("script exhausted")
	}
	return contractx.ReasoningResponse{Text: next.text, ToolRequests: next.calls}, nil
}

func (r *scriptedReasoner) requests() []contractx.ReasoningRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contractx.ReasoningRequest(nil), r.reqs...)
}

type fakeSaver struct {
	mu    sync.Mutex
	err   error
	saved []*domain.Record
}

func (f *fakeSaver) Save(_ context.Context, rec *domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, rec.Clone())
	return nil
}

func (f *fakeSaver) records() []*domain.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Record(nil), f.saved...)
}

type spoken struct {
	sessionID string
	text      string
	voiceID   string
}

type fakeSink struct {
	mu   sync.Mutex
	said []spoken
}

func (f *fakeSink) Speak(_ context.Context, sessionID, text, voiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, spoken{sessionID: sessionID, text: text, voiceID: voiceID})
	return nil
}

func (f *fakeSink) lines() []spoken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spoken(nil), f.said...)
}

type harness struct {
	orch     *Orchestrator
	reasoner *scriptedReasoner
	saver    *fakeSaver
	sink     *fakeSink
	records  *statex.DomainStore
	sessions *statex.Sessions
}

func newHarness(t *testing.T, cfg Config, steps ...step) *harness {
	t.Helper()

	reg, err := persona.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	records := statex.NewDomainStore()
	dispatcher, err := tool.NewDispatcher(reg, records, tool.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	h := &harness{
		reasoner: &scriptedReasoner{steps: steps},
		saver:    &fakeSaver{},
		sink:     &fakeSink{},
		records:  records,
		sessions: statex.NewSessions(),
	}
	orch, err := New(Deps{
		Personas: reg,
		Records:  records,
		Sessions: h.sessions,
		Reasoner: h.reasoner,
		Tools:    dispatcher,
		Saver:    h.saver,
		Sink:     h.sink,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	orch.now = func() time.Time { return fixedNow }
	h.orch = orch
	return h
}

func (h *harness) open(t *testing.T, sessionID, personaID string) *statex.Session {
	t.Helper()
	sess, err := h.orch.Open(context.Background(), sessionID, personaID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return sess
}

func (h *harness) turn(t *testing.T, sessionID, text string) contractx.Reply {
	t.Helper()
	reply, err := h.orch.HandleTurn(context.Background(), sessionID, text)
	if err != nil {
		t.Fatalf("HandleTurn(%q) error = %v", text, err)
	}
	return reply
}

func TestOpenSpeaksGreetingAndSeedsRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	sess := h.open(t, "s1", "leo")
	if sess.Lifecycle != statex.AwaitingFirstTurn {
		t.Fatalf("lifecycle = %s", sess.Lifecycle)
	}
	rec, err := h.records.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Kind != domain.KindCase {
		t.Fatalf("record kind = %s, want case", rec.Kind)
	}
	lines := h.sink.lines()
	if len(lines) != 1 || lines[0].voiceID != "en-IN-arjun" || !strings.Contains(lines[0].text, "Leo") {
		t.Fatalf("greeting = %#v", lines)
	}
}

func TestOpenFallsBackToDefaultPersona(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	sess := h.open(t, "s1", "nobody")
	if sess.PersonaID != "robert" {
		t.Fatalf("persona = %s, want robert", sess.PersonaID)
	}
	if _, err := h.orch.Open(context.Background(), "s1", "robert"); err == nil {
		t.Fatal("Open() with a duplicate id should fail")
	}
}

// Swaps the global logger, so it does not run in parallel.
func TestPersonaFallbackWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.WarnLevel)
	t.Cleanup(func() { log.Logger = prev })

	h := newHarness(t, Config{}, prose("Hello again."))
	h.open(t, "s1", "nobody")
	h.turn(t, "s1", "hi")

	if n := strings.Count(buf.String(), "unknown persona"); n != 1 {
		t.Fatalf("fallback warnings = %d, want 1:\n%s", n, buf.String())
	}
	if strings.Contains(buf.String(), "session persona missing") {
		t.Fatal("a resolved session must not warn again on later turns")
	}
}

func TestCartTurnThenGoodbyeFlushes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		callTools(call(tool.ToolAddItem, map[string]any{"item_id": "milk-1l", "quantity": 2.0})),
		prose("Two litres of milk are in your cart."),
	)
	sess := h.open(t, "s1", "robert")

	reply := h.turn(t, "s1", "add two milk please")
	if reply.Text != "Two litres of milk are in your cart." || reply.VoiceID != "en-IN-aarav" {
		t.Fatalf("reply = %#v", reply)
	}
	if !sess.Dirty {
		t.Fatal("session should be dirty after add_item")
	}
	if len(h.saver.records()) != 0 {
		t.Fatal("add_item must not checkpoint")
	}
	reqs := h.reasoner.requests()
	if len(reqs) != 2 {
		t.Fatalf("reasoner calls = %d, want 2", len(reqs))
	}
	if len(reqs[0].Tools) == 0 || reqs[0].Instructions == "" {
		t.Fatal("reasoner must receive persona instructions and tools")
	}
	if last := reqs[1].History[len(reqs[1].History)-1]; last.Role != contractx.RoleTool || last.ToolCallID != "call_add_item" {
		t.Fatalf("follow-up history tail = %#v", last)
	}

	bye := h.turn(t, "s1", "that's all, goodbye")
	if !bye.Ended {
		t.Fatal("goodbye must end the session")
	}
	if !strings.Contains(bye.Text, "not been ordered") || !strings.Contains(bye.Text, "FreshMart") {
		t.Fatalf("closing = %q", bye.Text)
	}
	if len(h.reasoner.requests()) != 2 {
		t.Fatal("an end phrase must not reach the reasoner")
	}
	saved := h.saver.records()
	if len(saved) != 1 || saved[0].Cart.Items["milk-1l"] != 2 {
		t.Fatalf("saved = %#v", saved)
	}
	if h.sessions.Len() != 0 {
		t.Fatal("ended session should be released")
	}
	if _, err := h.orch.HandleTurn(context.Background(), "s1", "hello?"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("HandleTurn() after close error = %v", err)
	}
}

func TestFraudConfirmationCheckpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		callTools(call(tool.ToolLookupCase, map[string]any{"username": "john"})),
		prose("What was the name of your first pet?"),
		callTools(call(tool.ToolVerifyIdentity, map[string]any{"answer": "Bruno"})),
		prose("Thanks. Did you make a purchase at this merchant?"),
		callTools(call(tool.ToolConfirmTransaction, map[string]any{"authorized": false})),
		prose("I've blocked the card."),
	)
	h.open(t, "s1", "leo")

	h.turn(t, "s1", "my username is john")
	h.turn(t, "s1", "Bruno")
	if len(h.saver.records()) != 0 {
		t.Fatal("nothing should be saved before a milestone")
	}
	reply := h.turn(t, "s1", "no, that wasn't me")
	if reply.Text != "I've blocked the card." {
		t.Fatalf("reply = %q", reply.Text)
	}
	saved := h.saver.records()
	if len(saved) != 1 || saved[0].Case.State != domain.CaseConfirmedFraud {
		t.Fatalf("saved = %#v", saved)
	}
}

func TestCheckpointFailureIsApologizedNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		callTools(
			call(tool.ToolLookupCase, map[string]any{"username": "john"}),
			call(tool.ToolVerifyIdentity, map[string]any{"answer": "bruno"}),
			call(tool.ToolConfirmTransaction, map[string]any{"authorized": true}),
		),
		prose("Great, your card stays active."),
	)
	h.saver.err = errors.New("disk full")
	sess := h.open(t, "s1", "leo")

	reply := h.turn(t, "s1", "john, bruno, yes that was me")
	if !strings.HasPrefix(reply.Text, saveApologyPrefix) || !strings.Contains(reply.Text, "card stays active") {
		t.Fatalf("reply = %q", reply.Text)
	}
	if sess.Ended() || !sess.Dirty {
		t.Fatal("session should stay open with an unsaved record")
	}
}

const saveApologyPrefix = "Sorry, I couldn't save that"

func TestToolFailureAsksForClarification(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		callTools(
			call(tool.ToolAddItem, map[string]any{"item_id": "caviar-tin"}),
			call(tool.ToolAddItem, map[string]any{"item_id": "milk-1l"}),
		),
	)
	sess := h.open(t, "s1", "robert")

	reply := h.turn(t, "s1", "add caviar and milk")
	if !strings.HasPrefix(reply.Text, "Sorry, I couldn't find that.") {
		t.Fatalf("reply = %q", reply.Text)
	}
	if len(h.reasoner.requests()) != 1 {
		t.Fatal("a failed tool must not trigger a follow-up reasoning call")
	}
	rec, _ := h.records.Get("s1")
	if len(rec.Cart.Items) != 0 || sess.Dirty {
		t.Fatalf("calls after a failure must be skipped: %#v", rec.Cart.Items)
	}
}

func TestReasoningTimeoutApologizesAndKeepsContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ReasonTimeout: 10 * time.Millisecond})
	h.reasoner.block = true
	sess := h.open(t, "s1", "robert")

	reply := h.turn(t, "s1", "add milk")
	if !strings.Contains(reply.Text, "taking too long") {
		t.Fatalf("reply = %q", reply.Text)
	}
	if got := len(h.reasoner.requests()); got != 2 {
		t.Fatalf("reasoner calls = %d, want one retry", got)
	}
	if sess.TurnCount != 1 || len(sess.Context) != 0 {
		t.Fatalf("turns = %d context = %d", sess.TurnCount, len(sess.Context))
	}
	rec, _ := h.records.Get("s1")
	if len(rec.Cart.Items) != 0 {
		t.Fatal("record must be unchanged")
	}
}

func TestHandoffTakesEffectNextTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		callTools(call(tool.ToolSetMode, map[string]any{"mode": "quiz"})),
		prose("Alicia will quiz you now."),
		prose("First question: what is a loop?"),
	)
	sess := h.open(t, "s1", "tutor-learn")

	first := h.turn(t, "s1", "quiz me")
	if first.PersonaID != "tutor-learn" || first.HandoffTo != "tutor-quiz" {
		t.Fatalf("first reply = %#v", first)
	}
	if sess.PersonaID != "tutor-quiz" || len(sess.Context) != 0 {
		t.Fatalf("persona = %s context = %d", sess.PersonaID, len(sess.Context))
	}

	second := h.turn(t, "s1", "ready")
	if second.PersonaID != "tutor-quiz" || second.VoiceID != "en-US-alicia" {
		t.Fatalf("second reply = %#v", second)
	}
	reqs := h.reasoner.requests()
	last := reqs[len(reqs)-1]
	if last.PersonaID != "tutor-quiz" || len(last.History) != 1 {
		t.Fatalf("reasoner saw persona %s with %d messages", last.PersonaID, len(last.History))
	}
	rec, _ := h.records.Get("s1")
	if rec.Quiz.Mode != domain.ModeQuiz {
		t.Fatalf("quiz mode = %s, record must survive the handoff", rec.Quiz.Mode)
	}
}

func TestTerminationWinsOverHandoff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		callTools(
			call(tool.ToolHandoff, map[string]any{"persona_id": "tutor-quiz"}),
			call(tool.ToolEndSession, map[string]any{"reason": "user is done"}),
		),
	)
	h.open(t, "s1", "tutor-learn")

	reply := h.turn(t, "s1", "switch to quiz, actually no, I'm done")
	if !reply.Ended || reply.HandoffTo != "" || reply.PersonaID != "tutor-learn" {
		t.Fatalf("reply = %#v", reply)
	}
	if !strings.Contains(reply.Text, "Keep practicing") {
		t.Fatalf("closing = %q", reply.Text)
	}
	if len(h.reasoner.requests()) != 1 {
		t.Fatal("end_session must skip the follow-up reasoning call")
	}
}

func TestHandleTurnRejectsEmptyText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	sess := h.open(t, "s1", "robin")
	if _, err := h.orch.HandleTurn(context.Background(), "s1", "   "); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("HandleTurn() error = %v, want ErrInvalidMessage", err)
	}
	if sess.TurnCount != 0 {
		t.Fatal("an empty turn must not count")
	}
}

func TestDisconnectFlushesDirtyRecordOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		callTools(call(tool.ToolAddItem, map[string]any{"item_id": "eggs-12"})),
		prose("Eggs added."),
	)
	sess := h.open(t, "s1", "robert")
	h.turn(t, "s1", "eggs")

	h.orch.Disconnect(context.Background(), "s1")
	h.orch.Disconnect(context.Background(), "s1")
	if !sess.Ended() || sess.Dirty {
		t.Fatalf("lifecycle = %s dirty = %v", sess.Lifecycle, sess.Dirty)
	}
	if got := len(h.saver.records()); got != 1 {
		t.Fatalf("saves = %d, want 1", got)
	}
	if h.sessions.Len() != 0 {
		t.Fatal("disconnected session should be released")
	}
}

func TestRunSpeaksFinalTurnsUntilClosed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, prose("Tell me about your team."))
	h.open(t, "s1", "robin")

	turns := make(chan RecognizedTurn, 3)
	turns <- RecognizedTurn{Text: "we are", IsFinal: false}
	turns <- RecognizedTurn{Text: "we are a small clinic", IsFinal: true}
	turns <- RecognizedTurn{Text: "goodbye", IsFinal: true}

	if err := h.orch.Run(context.Background(), "s1", turns); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	lines := h.sink.lines()
	if len(lines) != 3 {
		t.Fatalf("spoken = %#v, want greeting, reply and closing", lines)
	}
	if lines[1].text != "Tell me about your team." || !strings.Contains(lines[2].text, "Talk soon") {
		t.Fatalf("spoken = %#v", lines)
	}
	if got := len(h.reasoner.requests()); got != 1 {
		t.Fatalf("reasoner calls = %d, partial turns must be skipped", got)
	}
}

func TestRunDisconnectsWhenCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	sess := h.open(t, "s1", "gm")

	ctx, cancel := context.WithCancel(context.Background())
	turns := make(chan RecognizedTurn)
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, "s1", turns) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
	if !sess.Ended() || h.sessions.Len() != 0 {
		t.Fatal("cancel must disconnect the session")
	}
}

func TestRunAbandonsInFlightTurnWhenCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ReasonTimeout: 10 * time.Second})
	h.reasoner.block = true
	sess := h.open(t, "s1", "robert")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	turns := make(chan RecognizedTurn)
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, "s1", turns) }()
	turns <- RecognizedTurn{Text: "add milk", IsFinal: true}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.reasoner.requests()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("turn never reached the reasoner")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() kept waiting on the reasoner after cancel")
	}
	if !sess.Ended() {
		t.Fatal("cancel must end the session")
	}
}
