package domain

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"pgregory.net/rapid"
)

type fatalReporter interface {
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

func loadedCase(t fatalReporter) *Case {
	seed, ok := FindCaseSeed("John")
	if !ok {
		t.Fatal("seed case for john is missing")
	}
	c := NewCase()
	if err := c.Load(seed); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return c
}

func TestCaseVerifyThenConfirmFraud(t *testing.T) {
	t.Parallel()

	c := loadedCase(t)
	now := time.Date(2025, 11, 26, 9, 0, 0, 0, time.UTC)

	ok, err := c.Verify("  BRUNO ", now)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok || c.State != CaseIdentityVerified {
		t.Fatalf("Verify() = %v state=%s, want verified", ok, c.State)
	}

	if err := c.Resolve(false, now); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if c.State != CaseConfirmedFraud {
		t.Fatalf("state = %s, want %s", c.State, CaseConfirmedFraud)
	}
	if len(c.Notes) != 1 || c.Notes[0] == "" {
		t.Fatalf("expected card block note, got %#v", c.Notes)
	}
	if c.ResolvedAt == nil || !c.ResolvedAt.Equal(now) {
		t.Fatalf("ResolvedAt = %v, want %v", c.ResolvedAt, now)
	}
}

func TestCaseTwoFailedAttemptsFailVerification(t *testing.T) {
	t.Parallel()

	c := loadedCase(t)
	now := time.Now()

	if ok, _ := c.Verify("rex", now); ok {
		t.Fatal("expected first attempt to fail")
	}
	if c.State != CaseOpen || c.RemainingAttempts() != 1 {
		t.Fatalf("after one failure state=%s remaining=%d", c.State, c.RemainingAttempts())
	}
	if ok, _ := c.Verify("max", now); ok {
		t.Fatal("expected second attempt to fail")
	}
	if c.State != CaseVerificationFailed {
		t.Fatalf("state = %s, want %s", c.State, CaseVerificationFailed)
	}

	_, err := c.Verify("bruno", now)
	if !errors.Is(err, contractx.ErrInvalidTransition) {
		t.Fatalf("Verify() after failure error = %v, want ErrInvalidTransition", err)
	}
}

func TestCaseResolveRequiresVerification(t *testing.T) {
	t.Parallel()

	c := loadedCase(t)
	err := c.Resolve(true, time.Now())
	if !errors.Is(err, contractx.ErrInvalidTransition) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidTransition", err)
	}
	if c.State != CaseOpen {
		t.Fatalf("state = %s, want open", c.State)
	}
}

func TestCaseVerifyWithoutLoadedCase(t *testing.T) {
	t.Parallel()

	_, err := NewCase().Verify("bruno", time.Now())
	if !errors.Is(err, contractx.ErrInvalidTransition) {
		t.Fatalf("Verify() error = %v, want ErrInvalidTransition", err)
	}
}

// Any sequence of answers and resolutions keeps the machine inside its
// graph: confirmed outcomes are only reached through identity-verified and
// terminal states never change.
func TestCaseStateMachineProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		c := loadedCase(rt)
		visitedVerified := false
		steps := rapid.IntRange(1, 12).Draw(rt, "steps")

		for i := 0; i < steps; i++ {
			before := c.State
			if rapid.Bool().Draw(rt, "verify") {
				answer := rapid.SampledFrom([]string{"bruno", "Bruno", "rex", ""}).Draw(rt, "answer")
				_, _ = c.Verify(answer, time.Now())
			} else {
				_ = c.Resolve(rapid.Bool().Draw(rt, "authorized"), time.Now())
			}

			if before.Terminal() && c.State != before {
				rt.Fatalf("terminal state %s changed to %s", before, c.State)
			}
			if c.State == CaseIdentityVerified {
				visitedVerified = true
			}
			if (c.State == CaseConfirmedSafe || c.State == CaseConfirmedFraud) && !visitedVerified {
				rt.Fatalf("reached %s without identity verification", c.State)
			}
			if c.Attempts > MaxVerificationAttempts {
				rt.Fatalf("attempts = %d exceeds %d", c.Attempts, MaxVerificationAttempts)
			}
			if err := c.Validate(); err != nil {
				rt.Fatalf("Validate() error = %v", err)
			}
		}
	})
}
