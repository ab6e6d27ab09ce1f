package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

const defaultWriteTimeout = 5 * time.Second

// Hub maps live sessions to their websocket and speaks to them. It is the
// synthesis sink of the orchestrator: the client renders each speak frame
// with the given voice.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*peer

	writeTimeout time.Duration
	personaOf    func(voiceID string) string
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		conns:        make(map[string]*peer),
		writeTimeout: defaultWriteTimeout,
	}
}

func (h *Hub) register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] = &peer{conn: conn}
}

func (h *Hub) unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, sessionID)
}

// Connected reports how many sessions have a live socket.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Speak(ctx context.Context, sessionID, text, voiceID string) error {
	h.mu.RLock()
	p, ok := h.conns[sessionID]
	personaOf := h.personaOf
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no socket for %s", contractx.ErrSessionNotFound, sessionID)
	}

	frame := serverFrame{Type: frameSpeak, Text: text, VoiceID: voiceID}
	if personaOf != nil {
		frame.Persona = personaOf(voiceID)
	}
	return p.write(ctx, h.writeTimeout, frame)
}

func (p *peer) write(ctx context.Context, timeout time.Duration, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Speech must still reach the client when the turn that produced it has
	// been cancelled, so writes only honour their own deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return wsjson.Write(writeCtx, p.conn, v)
}
