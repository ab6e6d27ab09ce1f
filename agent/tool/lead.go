package tool

import (
	"context"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

const (
	ToolSaveLead       = "save_lead"
	ToolEndCallSummary = "end_call_summary"
)

func (d *Dispatcher) leadTools() []*Def {
	field := func(name, desc string) Arg {
		return Arg{Name: name, Type: TypeString, Desc: desc}
	}
	return []*Def{
		{
			Name:    ToolSaveLead,
			Desc:    "Save whatever lead details the prospect has shared so far. Only include fields you heard.",
			Kind:    domain.KindLead,
			Mutates: true,
			Args: []Arg{
				field("name", "Prospect name."),
				field("company", "Company name."),
				field("email", "Work email."),
				field("role", "Job title."),
				field("use_case", "What they want to use the product for."),
				field("team_size", "Team size in their words."),
				{Name: "timeline", Type: TypeString, Desc: "When they plan to start.", Enum: []string{
					string(domain.TimelineNow), string(domain.TimelineSoon), string(domain.TimelineLater),
				}},
			},
			Handler: saveLead,
		},
		{
			Name:    ToolEndCallSummary,
			Desc:    "Capture the lead with a short call summary and end the call.",
			Kind:    domain.KindLead,
			Mutates: true,
			Args:    []Arg{{Name: "summary", Type: TypeString, Desc: "Two or three sentence recap of the call.", Required: true}},
			Handler: d.endCallSummary,
		},
	}
}

func saveLead(_ context.Context, call *Call) (any, contractx.Control, error) {
	l := call.Record.Lead
	err := l.Apply(domain.LeadPatch{
		Name:     call.Args.String("name"),
		Company:  call.Args.String("company"),
		Email:    call.Args.String("email"),
		Role:     call.Args.String("role"),
		UseCase:  call.Args.String("use_case"),
		TeamSize: call.Args.String("team_size"),
		Timeline: call.Args.String("timeline"),
	})
	if err != nil {
		return nil, contractx.Control{}, err
	}
	missing := l.MissingFields()
	if missing == nil {
		missing = []string{}
	}
	return map[string]any{"saved": true, "missing": missing}, contractx.Control{}, nil
}

func (d *Dispatcher) endCallSummary(_ context.Context, call *Call) (any, contractx.Control, error) {
	l := call.Record.Lead
	if err := l.Capture(call.Args.String("summary"), d.now()); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"status": string(l.Status), "missing": l.MissingFields()}, contractx.Control{Checkpoint: true, EndSession: true}, nil
}
