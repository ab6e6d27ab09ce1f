package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/voice-persona-agents/agent/agents/orchestrator"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
)

// Conversations is the orchestrator surface the transport drives.
type Conversations interface {
	Open(ctx context.Context, sessionID, personaID string) (*statex.Session, error)
	Run(ctx context.Context, sessionID string, turns <-chan orchestrator.RecognizedTurn) error
	Personas() []persona.Persona
}

type Server struct {
	conv    Conversations
	hub     *Hub
	metrics http.Handler
	origins []string
	newID   func() string
}

type Option func(*Server)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithOriginPatterns restricts websocket origins. Empty allows any origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.origins = patterns
	}
}

func NewServer(conv Conversations, hub *Hub, opts ...Option) (*Server, error) {
	if conv == nil {
		return nil, errors.New("conversations are required")
	}
	if hub == nil {
		return nil, errors.New("hub is required")
	}
	s := &Server{
		conv:  conv,
		hub:   hub,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}

	voices := make(map[string]string)
	for _, p := range conv.Personas() {
		voices[p.VoiceID] = p.ID
	}
	hub.mu.Lock()
	hub.personaOf = func(voiceID string) string { return voices[voiceID] }
	hub.mu.Unlock()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connected": s.hub.Connected()})
	})
	r.Get("/personas", s.listPersonas)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Get("/ws", s.serveSession)
	return r
}

type personaView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	VoiceID     string `json:"voice_id"`
	Domain      string `json:"domain"`
}

func (s *Server) listPersonas(w http.ResponseWriter, _ *http.Request) {
	list := s.conv.Personas()
	out := make([]personaView, 0, len(list))
	for _, p := range list {
		out = append(out, personaView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			VoiceID:     p.VoiceID,
			Domain:      string(p.Domain),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// serveSession upgrades to a websocket, opens a session with the requested
// persona and feeds transcripts to the orchestrator until either side ends
// the call.
func (s *Server) serveSession(w http.ResponseWriter, r *http.Request) {
	personaID := strings.TrimSpace(r.URL.Query().Get("persona"))
	sessionID := s.newID()
	logger := log.With().Str("session_id", sessionID).Logger()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.hub.register(sessionID, conn)
	defer s.hub.unregister(sessionID)

	sess, err := s.conv.Open(ctx, sessionID, personaID)
	if err != nil {
		logger.Error().Err(err).Msg("open session failed")
		_ = wsjson.Write(ctx, conn, serverFrame{Type: frameError, Error: "session could not be opened"})
		_ = conn.Close(websocket.StatusInternalError, "open failed")
		return
	}
	logger.Info().Str("persona", sess.PersonaID).Str("remote", r.RemoteAddr).Msg("call connected")

	// r.Context() stays live after the upgrade, so the reader cancels ctx
	// when the client goes away and the in-flight turn is abandoned.
	turns := make(chan orchestrator.RecognizedTurn)
	go func() {
		defer cancel()
		readTurns(ctx, conn, turns, logger)
	}()

	if err := s.conv.Run(ctx, sessionID, turns); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("session loop stopped")
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	logger.Info().Msg("call disconnected")
}
