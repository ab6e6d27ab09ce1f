package tool

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

const (
	ToolLookupCase         = "lookup_case"
	ToolVerifyIdentity     = "verify_identity"
	ToolConfirmTransaction = "confirm_transaction"
)

func (d *Dispatcher) caseTools() []*Def {
	return []*Def{
		{
			Name:    ToolLookupCase,
			Desc:    "Load the pending fraud case for a customer username. Returns the security question but never the answer.",
			Kind:    domain.KindCase,
			Mutates: true,
			Args:    []Arg{{Name: "username", Type: TypeString, Desc: "Customer username.", Required: true}},
			Handler: d.lookupCase,
		},
		{
			Name:    ToolVerifyIdentity,
			Desc:    "Check the customer's answer to the security question.",
			Kind:    domain.KindCase,
			Mutates: true,
			Args:    []Arg{{Name: "answer", Type: TypeString, Desc: "The answer exactly as the customer said it.", Required: true}},
			Handler: d.verifyIdentity,
		},
		{
			Name:    ToolConfirmTransaction,
			Desc:    "Record whether the verified customer made the flagged transaction.",
			Kind:    domain.KindCase,
			Mutates: true,
			Args:    []Arg{{Name: "authorized", Type: TypeBoolean, Desc: "True if the customer made the transaction.", Required: true}},
			Handler: d.confirmTransaction,
		},
	}
}

// lookupCase re-keys the record to the case id so checkpoints land on the
// case document rather than the session.
func (d *Dispatcher) lookupCase(ctx context.Context, call *Call) (any, contractx.Control, error) {
	username := call.Args.String("username")
	seed, ok := domain.FindCaseSeed(username)
	if !ok {
		return nil, contractx.Control{}, fmt.Errorf("%w: no pending case for %q", contractx.ErrNotFound, username)
	}

	if d.records != nil {
		prior, err := d.records.Load(ctx, domain.KindCase, seed.CaseID)
		switch {
		case err == nil && prior.Case != nil && prior.Case.State.Terminal():
			return nil, contractx.Control{}, fmt.Errorf("%w: case %s is already closed as %s", contractx.ErrInvalidTransition, seed.CaseID, prior.Case.State)
		case err != nil && !errors.Is(err, contractx.ErrNotFound):
			return nil, contractx.Control{}, err
		}
	}

	c := call.Record.Case
	if err := c.Load(seed); err != nil {
		return nil, contractx.Control{}, err
	}
	call.Record.ID = seed.CaseID

	return map[string]any{
		"case_id":           c.CaseID,
		"customer_name":     c.CustomerName,
		"card":              fmt.Sprintf("%s ending in %s", c.CardType, c.CardEnding),
		"transaction":       c.Transaction,
		"amount":            domain.FormatMoney(c.Transaction.Amount),
		"security_question": c.SecurityQuestion,
	}, contractx.Control{}, nil
}

func (d *Dispatcher) verifyIdentity(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Case
	ok, err := c.Verify(call.Args.String("answer"), d.now())
	if err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{
		"verified":           ok,
		"state":              string(c.State),
		"remaining_attempts": c.RemainingAttempts(),
	}, contractx.Control{Checkpoint: c.State.Terminal()}, nil
}

func (d *Dispatcher) confirmTransaction(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Case
	authorized, _ := call.Args.Bool("authorized")
	if err := c.Resolve(authorized, d.now()); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{
		"state": string(c.State),
		"note":  c.Notes[len(c.Notes)-1],
	}, contractx.Control{Checkpoint: true}, nil
}
