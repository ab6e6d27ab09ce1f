package domain

import (
	"encoding/json"
	"fmt"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

// document is the persisted shape: the record plus its status label.
type document struct {
	*Record
	Status string `json:"status"`
}

func Encode(r *Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(document{Record: r, Status: r.Status()}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.ID, err)
	}
	return payload, nil
}

func Decode(data []byte) (*Record, error) {
	doc := document{Record: &Record{}}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: unmarshal record: %v", contractx.ErrValidation, err)
	}
	if err := doc.Record.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record loaded from store: %w", err)
	}
	return doc.Record, nil
}
