package contract

import (
	"github.com/cloudwego/eino/schema"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the persona-local reasoning context.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []ToolRequest `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type ReasoningRequest struct {
	SessionID    string             `json:"session_id"`
	PersonaID    string             `json:"persona_id"`
	Instructions string             `json:"instructions"`
	History      []Message          `json:"history,omitempty"`
	Tools        []*schema.ToolInfo `json:"-"`
}

// ReasoningResponse carries prose, tool requests, or both. Tool requests win
// when both are present.
type ReasoningResponse struct {
	Text         string        `json:"text,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
}

func (r ReasoningResponse) WantsTools() bool {
	return len(r.ToolRequests) > 0
}

type ToolRequest struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	Tool   string    `json:"tool"`
	Result any       `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	Code   ErrorCode `json:"code,omitempty"`

	Control Control `json:"-"`
}

func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// Control holds the session-level signals a tool raises for the orchestrator.
type Control struct {
	HandoffTo  string `json:"handoff_to,omitempty"`
	EndSession bool   `json:"end_session,omitempty"`
	Checkpoint bool   `json:"checkpoint,omitempty"`
	ArcEnded   bool   `json:"arc_ended,omitempty"`

	// Mutated reports that the session's domain record changed.
	Mutated bool `json:"mutated,omitempty"`
}

// Merge folds other into c. The first handoff raised in a turn wins.
func (c Control) Merge(other Control) Control {
	if c.HandoffTo == "" {
		c.HandoffTo = other.HandoffTo
	}
	c.EndSession = c.EndSession || other.EndSession
	c.Checkpoint = c.Checkpoint || other.Checkpoint
	c.ArcEnded = c.ArcEnded || other.ArcEnded
	c.Mutated = c.Mutated || other.Mutated
	return c
}

// Reply is what the orchestrator says at the end of a turn.
type Reply struct {
	Text      string `json:"text"`
	PersonaID string `json:"persona"`
	VoiceID   string `json:"voice_id"`

	// HandoffTo names the persona that speaks from the next turn.
	HandoffTo string `json:"handoff_to,omitempty"`
	ArcEnded  bool   `json:"arc_ended,omitempty"`
	Ended     bool   `json:"ended,omitempty"`
}
