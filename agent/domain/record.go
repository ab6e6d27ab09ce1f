package domain

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

type Kind string

const (
	KindCart      Kind = "cart"
	KindCase      Kind = "case"
	KindCharacter Kind = "character"
	KindQuiz      Kind = "quiz"
	KindLead      Kind = "lead"
)

var kinds = []Kind{KindCart, KindCase, KindCharacter, KindQuiz, KindLead}

func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown record kind %q", contractx.ErrValidation, raw)
	}
	return k, nil
}

// Record is the single live domain record of a session. Exactly one payload
// pointer is set and it matches Kind.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	UpdatedAt time.Time `json:"updated_at"`

	Cart      *Cart      `json:"cart,omitempty"`
	Case      *Case      `json:"case,omitempty"`
	Character *Character `json:"character,omitempty"`
	Quiz      *Quiz      `json:"quiz,omitempty"`
	Lead      *Lead      `json:"lead,omitempty"`
}

// New returns the default record for kind. A record that has never been
// persisted is indistinguishable from this value.
func New(kind Kind, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: record id is empty", contractx.ErrValidation)
	}

	rec := &Record{ID: id, Kind: kind}
	switch kind {
	case KindCart:
		rec.Cart = NewCart()
	case KindCase:
		rec.Case = NewCase()
	case KindCharacter:
		rec.Character = NewCharacter()
	case KindQuiz:
		rec.Quiz = NewQuiz()
	case KindLead:
		rec.Lead = NewLead()
	default:
		return nil, fmt.Errorf("%w: unknown record kind %q", contractx.ErrValidation, kind)
	}
	return rec, nil
}

func (r *Record) Touch(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	r.UpdatedAt = now.UTC()
}

func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: record is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: record id is empty", contractx.ErrValidation)
	}

	set := 0
	for _, present := range []bool{r.Cart != nil, r.Case != nil, r.Character != nil, r.Quiz != nil, r.Lead != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: record %s carries %d payloads", contractx.ErrValidation, r.ID, set)
	}

	switch r.Kind {
	case KindCart:
		if r.Cart == nil {
			return payloadMismatch(r)
		}
		return r.Cart.Validate()
	case KindCase:
		if r.Case == nil {
			return payloadMismatch(r)
		}
		return r.Case.Validate()
	case KindCharacter:
		if r.Character == nil {
			return payloadMismatch(r)
		}
		return r.Character.Validate()
	case KindQuiz:
		if r.Quiz == nil {
			return payloadMismatch(r)
		}
		return r.Quiz.Validate()
	case KindLead:
		if r.Lead == nil {
			return payloadMismatch(r)
		}
		return r.Lead.Validate()
	default:
		return fmt.Errorf("%w: unknown record kind %q", contractx.ErrValidation, r.Kind)
	}
}

func payloadMismatch(r *Record) error {
	return fmt.Errorf("%w: record %s of kind %s has no matching payload", contractx.ErrValidation, r.ID, r.Kind)
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Cart = r.Cart.Clone()
	out.Case = r.Case.Clone()
	out.Character = r.Character.Clone()
	out.Quiz = r.Quiz.Clone()
	out.Lead = r.Lead.Clone()
	return &out
}

// Status is the coarse lifecycle label stored next to the payload.
func (r *Record) Status() string {
	switch {
	case r == nil:
		return ""
	case r.Cart != nil:
		return string(r.Cart.Status)
	case r.Case != nil:
		return string(r.Case.State)
	case r.Character != nil:
		return r.Character.Condition()
	case r.Quiz != nil:
		return string(r.Quiz.Mode)
	case r.Lead != nil:
		return string(r.Lead.Status)
	default:
		return ""
	}
}

// Summary renders the spoken recap used when a session closes.
func (r *Record) Summary() string {
	switch {
	case r == nil:
		return ""
	case r.Cart != nil:
		return r.Cart.Summary()
	case r.Case != nil:
		return r.Case.Summary()
	case r.Character != nil:
		return r.Character.Summary()
	case r.Quiz != nil:
		return r.Quiz.Summary()
	case r.Lead != nil:
		return r.Lead.Summary()
	default:
		return ""
	}
}
