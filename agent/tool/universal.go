package tool

import (
	"context"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

const (
	ToolHandoff      = "handoff"
	ToolEndSession   = "end_session"
	ToolMathEvaluate = "math_evaluate"
)

func (d *Dispatcher) universalTools() []*Def {
	return []*Def{
		{
			Name: ToolHandoff,
			Desc: "Pass the conversation to another persona that works on the same record. The new persona speaks from the next turn.",
			Args: []Arg{
				{Name: "persona_id", Type: TypeString, Desc: "Id of the persona to hand off to.", Required: true},
			},
			Handler: d.handoff,
		},
		{
			Name: ToolEndSession,
			Desc: "End the conversation after this reply, for example when the user says goodbye.",
			Args: []Arg{
				{Name: "reason", Type: TypeString, Desc: "Short reason for ending."},
			},
			Handler: endSession,
		},
		{
			Name: ToolMathEvaluate,
			Desc: "Evaluate an arithmetic expression with + - * / % ^ and parentheses.",
			Args: []Arg{
				{Name: "expression", Type: TypeString, Desc: "Expression to evaluate, e.g. (68 * 2) + 29.", Required: true},
			},
			Handler: mathEvaluate,
		},
	}
}

func (d *Dispatcher) handoff(_ context.Context, call *Call) (any, contractx.Control, error) {
	target := call.Args.String("persona_id")
	if err := d.personas.CanHandoff(call.PersonaID, target); err != nil {
		return nil, contractx.Control{}, err
	}
	next, _ := d.personas.Get(target)
	return map[string]any{
		"handoff_to":   next.ID,
		"display_name": next.DisplayName,
	}, contractx.Control{HandoffTo: next.ID}, nil
}

func endSession(_ context.Context, call *Call) (any, contractx.Control, error) {
	return map[string]any{"ending": true, "reason": call.Args.String("reason")}, contractx.Control{EndSession: true}, nil
}
