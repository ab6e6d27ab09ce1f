package domain

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

type QuizMode string

const (
	ModeLearn     QuizMode = "learn"
	ModeQuiz      QuizMode = "quiz"
	ModeTeachBack QuizMode = "teach_back"
)

func ParseQuizMode(raw string) (QuizMode, error) {
	m := QuizMode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	switch m {
	case ModeLearn, ModeQuiz, ModeTeachBack:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q, use learn, quiz or teach_back", contractx.ErrInvalidArguments, raw)
	}
}

type Quiz struct {
	ConceptID string   `json:"concept_id,omitempty"`
	Mode      QuizMode `json:"mode"`
	Asked     int      `json:"asked"`
	Correct   int      `json:"correct"`
}

func NewQuiz() *Quiz {
	return &Quiz{Mode: ModeLearn}
}

func (q *Quiz) Clone() *Quiz {
	if q == nil {
		return nil
	}
	out := *q
	return &out
}

func (q *Quiz) Validate() error {
	if _, err := ParseQuizMode(string(q.Mode)); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	if q.Asked < 0 || q.Correct < 0 || q.Correct > q.Asked {
		return fmt.Errorf("%w: score %d/%d is inconsistent", contractx.ErrValidation, q.Correct, q.Asked)
	}
	return nil
}

func (q *Quiz) SelectConcept(idOrTitle string) (Concept, error) {
	c, ok := FindConcept(idOrTitle)
	if !ok {
		return Concept{}, fmt.Errorf("%w: unknown concept %q", contractx.ErrNotFound, idOrTitle)
	}
	q.ConceptID = c.ID
	return c, nil
}

func (q *Quiz) RecordAnswer(correct bool) error {
	if q.ConceptID == "" {
		return fmt.Errorf("%w: pick a concept first", contractx.ErrInvalidTransition)
	}
	q.Asked++
	if correct {
		q.Correct++
	}
	return nil
}

func (q *Quiz) Summary() string {
	if q.Asked == 0 {
		return "Thanks for studying today. Come back any time to keep practicing."
	}
	return fmt.Sprintf("You answered %d of %d questions correctly today.", q.Correct, q.Asked)
}
