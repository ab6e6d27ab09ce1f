package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

type Timeline string

const (
	TimelineNow   Timeline = "now"
	TimelineSoon  Timeline = "soon"
	TimelineLater Timeline = "later"
)

func ParseTimeline(raw string) (Timeline, error) {
	t := Timeline(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case TimelineNow, TimelineSoon, TimelineLater:
		return t, nil
	default:
		return "", fmt.Errorf("%w: timeline must be now, soon or later", contractx.ErrInvalidArguments)
	}
}

type LeadStatus string

const (
	LeadOpen     LeadStatus = "open"
	LeadCaptured LeadStatus = "captured"
)

type Lead struct {
	Name        string     `json:"name,omitempty"`
	Company     string     `json:"company,omitempty"`
	Email       string     `json:"email,omitempty"`
	Role        string     `json:"role,omitempty"`
	UseCase     string     `json:"use_case,omitempty"`
	TeamSize    string     `json:"team_size,omitempty"`
	Timeline    Timeline   `json:"timeline,omitempty"`
	CallSummary string     `json:"summary,omitempty"`
	Status      LeadStatus `json:"status"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
}

// LeadPatch carries the fields a caller wants to overwrite. Empty strings are
// left untouched.
type LeadPatch struct {
	Name     string
	Company  string
	Email    string
	Role     string
	UseCase  string
	TeamSize string
	Timeline string
}

func NewLead() *Lead {
	return &Lead{Status: LeadOpen}
}

func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	out := *l
	if l.CapturedAt != nil {
		at := *l.CapturedAt
		out.CapturedAt = &at
	}
	return &out
}

func (l *Lead) Validate() error {
	switch l.Status {
	case LeadOpen, LeadCaptured:
	default:
		return fmt.Errorf("%w: unknown lead status %q", contractx.ErrValidation, l.Status)
	}
	if l.Timeline != "" {
		if _, err := ParseTimeline(string(l.Timeline)); err != nil {
			return fmt.Errorf("%w: %v", contractx.ErrValidation, err)
		}
	}
	return nil
}

// Apply validates every provided field before writing any of them.
func (l *Lead) Apply(p LeadPatch) error {
	if l.Status == LeadCaptured {
		return fmt.Errorf("%w: lead is already captured", contractx.ErrInvalidTransition)
	}

	var timeline Timeline
	if strings.TrimSpace(p.Timeline) != "" {
		t, err := ParseTimeline(p.Timeline)
		if err != nil {
			return err
		}
		timeline = t
	}
	email := strings.TrimSpace(p.Email)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return fmt.Errorf("%w: %q is not a valid email address", contractx.ErrInvalidArguments, email)
		}
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&l.Name, p.Name)
	set(&l.Company, p.Company)
	set(&l.Email, email)
	set(&l.Role, p.Role)
	set(&l.UseCase, p.UseCase)
	set(&l.TeamSize, p.TeamSize)
	if timeline != "" {
		l.Timeline = timeline
	}
	return nil
}

func (l *Lead) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"name", l.Name},
		{"company", l.Company},
		{"email", l.Email},
		{"role", l.Role},
		{"use_case", l.UseCase},
		{"team_size", l.TeamSize},
		{"timeline", string(l.Timeline)},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (l *Lead) Capture(summary string, now time.Time) error {
	if l.Status == LeadCaptured {
		return fmt.Errorf("%w: lead is already captured", contractx.ErrInvalidTransition)
	}
	l.CallSummary = strings.TrimSpace(summary)
	l.Status = LeadCaptured
	at := now.UTC()
	l.CapturedAt = &at
	return nil
}

func (l *Lead) Summary() string {
	who := l.Name
	if who == "" {
		who = "you"
	}
	if l.Status != LeadCaptured {
		return fmt.Sprintf("Thanks for your time, %s. We will follow up soon.", who)
	}
	if l.Email != "" {
		return fmt.Sprintf("Thanks %s. I have noted everything and our team will reach out at %s.", who, l.Email)
	}
	return fmt.Sprintf("Thanks %s. I have noted everything and our team will reach out shortly.", who)
}
