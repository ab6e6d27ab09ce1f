package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

// Publisher delivers a message body to a named destination.
type Publisher interface {
	Publish(ctx context.Context, destination string, body []byte) (string, error)
}

// MilestoneNotifier forwards each checkpoint document to a publisher.
type MilestoneNotifier struct {
	publisher   Publisher
	destination string
}

func NewMilestoneNotifier(p Publisher, destination string) (*MilestoneNotifier, error) {
	if p == nil {
		return nil, errors.New("publisher is nil")
	}
	if destination == "" {
		return nil, errors.New("destination is required")
	}
	return &MilestoneNotifier{publisher: p, destination: destination}, nil
}

func (n *MilestoneNotifier) Notify(ctx context.Context, rec *domain.Record, payload []byte) error {
	id, err := n.publisher.Publish(ctx, n.destination, payload)
	if err != nil {
		return fmt.Errorf("publish checkpoint %s/%s: %w", rec.Kind, rec.ID, err)
	}
	log.Debug().Str("message_id", id).Str("record_id", rec.ID).Msg("checkpoint published")
	return nil
}
