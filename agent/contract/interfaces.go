package contract

import "context"

// Reasoner turns persona instructions plus conversation context into either
// prose or a request to run tools.
type Reasoner interface {
	Complete(ctx context.Context, req ReasoningRequest) (ReasoningResponse, error)
}

// SynthesisSink speaks text in a persona voice. Delivery is fire-and-forget.
type SynthesisSink interface {
	Speak(ctx context.Context, sessionID string, text string, voiceID string) error
}
