package domain

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

type CaseState string

const (
	CaseOpen               CaseState = "open"
	CaseIdentityVerified   CaseState = "identity-verified"
	CaseConfirmedSafe      CaseState = "confirmed-safe"
	CaseConfirmedFraud     CaseState = "confirmed-fraud"
	CaseVerificationFailed CaseState = "verification-failed"
)

const MaxVerificationAttempts = 2

func (s CaseState) Terminal() bool {
	switch s {
	case CaseConfirmedSafe, CaseConfirmedFraud, CaseVerificationFailed:
		return true
	default:
		return false
	}
}

type Case struct {
	CaseID           string      `json:"case_id,omitempty"`
	Username         string      `json:"username,omitempty"`
	CustomerName     string      `json:"customer_name,omitempty"`
	CardType         string      `json:"card_type,omitempty"`
	CardEnding       string      `json:"card_ending,omitempty"`
	Transaction      Transaction `json:"transaction"`
	SecurityQuestion string      `json:"security_question,omitempty"`
	SecurityAnswer   string      `json:"security_answer,omitempty"`

	State      CaseState  `json:"state"`
	Attempts   int        `json:"attempts"`
	Notes      []string   `json:"notes,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func NewCase() *Case {
	return &Case{State: CaseOpen}
}

func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.Notes = append([]string(nil), c.Notes...)
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}

func (c *Case) Validate() error {
	switch c.State {
	case CaseOpen, CaseIdentityVerified, CaseConfirmedSafe, CaseConfirmedFraud, CaseVerificationFailed:
	default:
		return fmt.Errorf("%w: unknown case state %q", contractx.ErrValidation, c.State)
	}
	if c.Attempts < 0 || c.Attempts > MaxVerificationAttempts {
		return fmt.Errorf("%w: verification attempts %d out of range", contractx.ErrValidation, c.Attempts)
	}
	if c.State != CaseOpen && c.CaseID == "" {
		return fmt.Errorf("%w: case in state %s has no case id", contractx.ErrValidation, c.State)
	}
	return nil
}

func (c *Case) Loaded() bool {
	return c.CaseID != ""
}

// Load attaches a pending case to an empty record.
func (c *Case) Load(seed CaseSeed) error {
	if c.Loaded() {
		return fmt.Errorf("%w: case %s is already loaded", contractx.ErrInvalidTransition, c.CaseID)
	}
	*c = Case{
		CaseID:           seed.CaseID,
		Username:         seed.Username,
		CustomerName:     seed.CustomerName,
		CardType:         seed.CardType,
		CardEnding:       seed.CardEnding,
		Transaction:      seed.Transaction,
		SecurityQuestion: seed.SecurityQuestion,
		SecurityAnswer:   seed.SecurityAnswer,
		State:            CaseOpen,
	}
	return nil
}

// Verify checks a security answer, ignoring case and surrounding space. The
// second failed attempt moves the case to verification-failed.
func (c *Case) Verify(answer string, now time.Time) (bool, error) {
	if !c.Loaded() {
		return false, fmt.Errorf("%w: no case is loaded", contractx.ErrInvalidTransition)
	}
	if c.State != CaseOpen {
		return false, fmt.Errorf("%w: cannot verify identity in state %s", contractx.ErrInvalidTransition, c.State)
	}

	if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(c.SecurityAnswer)) {
		c.State = CaseIdentityVerified
		return true, nil
	}

	c.Attempts++
	if c.Attempts >= MaxVerificationAttempts {
		c.State = CaseVerificationFailed
		c.Notes = append(c.Notes, "identity verification failed; case escalated for manual review")
		at := now.UTC()
		c.ResolvedAt = &at
	}
	return false, nil
}

// Resolve records the customer's answer about the flagged transaction.
func (c *Case) Resolve(authorized bool, now time.Time) error {
	if c.State != CaseIdentityVerified {
		return fmt.Errorf("%w: cannot resolve case in state %s", contractx.ErrInvalidTransition, c.State)
	}
	if authorized {
		c.State = CaseConfirmedSafe
		c.Notes = append(c.Notes, "customer confirmed the transaction as legitimate; card remains active")
	} else {
		c.State = CaseConfirmedFraud
		c.Notes = append(c.Notes, fmt.Sprintf("customer denied the transaction; card ending in %s blocked and replacement issued", c.CardEnding))
	}
	at := now.UTC()
	c.ResolvedAt = &at
	return nil
}

func (c *Case) RemainingAttempts() int {
	return MaxVerificationAttempts - c.Attempts
}

func (c *Case) Summary() string {
	switch c.State {
	case CaseConfirmedSafe:
		return fmt.Sprintf("Case %s is closed: the transaction at %s was confirmed as yours and your card stays active.", c.CaseID, c.Transaction.Merchant)
	case CaseConfirmedFraud:
		return fmt.Sprintf("Case %s is closed: your card ending in %s is blocked and a replacement is on its way.", c.CaseID, c.CardEnding)
	case CaseVerificationFailed:
		return fmt.Sprintf("We could not verify your identity for case %s, so it has been escalated for review.", c.CaseID)
	default:
		if !c.Loaded() {
			return "No fraud case was reviewed in this call."
		}
		return fmt.Sprintf("Case %s is still open.", c.CaseID)
	}
}
