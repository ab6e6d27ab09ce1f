package tool

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

const (
	ToolSelectConcept = "select_concept"
	ToolSetMode       = "set_mode"
	ToolRecordAnswer  = "record_answer"
)

// modePersonas maps each study mode to the persona that runs it.
var modePersonas = map[domain.QuizMode]string{
	domain.ModeLearn:     "tutor-learn",
	domain.ModeQuiz:      "tutor-quiz",
	domain.ModeTeachBack: "tutor-teachback",
}

func (d *Dispatcher) quizTools() []*Def {
	concepts := domain.Concepts()
	ids := make([]string, 0, len(concepts))
	for _, c := range concepts {
		ids = append(ids, c.ID)
	}

	return []*Def{
		{
			Name:    ToolSelectConcept,
			Desc:    "Choose the programming concept to study.",
			Kind:    domain.KindQuiz,
			Mutates: true,
			Args:    []Arg{{Name: "concept_id", Type: TypeString, Desc: "Concept to study.", Required: true, Enum: ids}},
			Handler: selectConcept,
		},
		{
			Name:    ToolSetMode,
			Desc:    "Switch study mode. Each mode has its own tutor, who takes over from the next turn.",
			Kind:    domain.KindQuiz,
			Mutates: true,
			Args: []Arg{{Name: "mode", Type: TypeString, Desc: "Study mode.", Required: true, Enum: []string{
				string(domain.ModeLearn), string(domain.ModeQuiz), string(domain.ModeTeachBack),
			}}},
			Handler: d.setMode,
		},
		{
			Name:    ToolRecordAnswer,
			Desc:    "Score the learner's last answer.",
			Kind:    domain.KindQuiz,
			Mutates: true,
			Args:    []Arg{{Name: "correct", Type: TypeBoolean, Desc: "True if the answer was right.", Required: true}},
			Handler: recordAnswer,
		},
	}
}

func selectConcept(_ context.Context, call *Call) (any, contractx.Control, error) {
	c, err := call.Record.Quiz.SelectConcept(call.Args.String("concept_id"))
	if err != nil {
		return nil, contractx.Control{}, err
	}
	return c, contractx.Control{}, nil
}

func (d *Dispatcher) setMode(_ context.Context, call *Call) (any, contractx.Control, error) {
	mode, err := domain.ParseQuizMode(call.Args.String("mode"))
	if err != nil {
		return nil, contractx.Control{}, err
	}
	target, ok := modePersonas[mode]
	if !ok {
		return nil, contractx.Control{}, fmt.Errorf("%w: no tutor for mode %s", contractx.ErrNotFound, mode)
	}

	call.Record.Quiz.Mode = mode
	out := map[string]any{"mode": string(mode), "tutor": target}
	if target == call.PersonaID {
		return out, contractx.Control{}, nil
	}
	if err := d.personas.CanHandoff(call.PersonaID, target); err != nil {
		return nil, contractx.Control{}, err
	}
	return out, contractx.Control{HandoffTo: target}, nil
}

func recordAnswer(_ context.Context, call *Call) (any, contractx.Control, error) {
	q := call.Record.Quiz
	correct, _ := call.Args.Bool("correct")
	if err := q.RecordAnswer(correct); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"asked": q.Asked, "correct": q.Correct}, contractx.Control{}, nil
}
