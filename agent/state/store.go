package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

var (
	ErrInvalidSession = errors.New("session id is empty")
	ErrNilRecord      = errors.New("domain record is nil")
)

// DomainStore holds the live domain record of every session in memory.
// Mutations of one session are serialized; sessions never share records.
type DomainStore struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry
	now     func() time.Time
}

type storeEntry struct {
	mu  sync.Mutex
	rec *domain.Record
}

type StoreOption func(*DomainStore)

// WithStoreClock sets the clock that stamps UpdatedAt on every committed
// mutation.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *DomainStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewDomainStore(opts ...StoreOption) *DomainStore {
	s := &DomainStore{
		entries: make(map[string]*storeEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init installs rec as the session's record, replacing any previous one.
func (s *DomainStore) Init(sessionID string, rec *domain.Record) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	if rec == nil {
		return ErrNilRecord
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = &storeEntry{rec: rec.Clone()}
	return nil
}

func (s *DomainStore) entry(sessionID string) (*storeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, fmt.Errorf("%w: no record for session %s", contractx.ErrSessionNotFound, sessionID)
	}
	return e, nil
}

// Get returns a snapshot of the session's record.
func (s *DomainStore) Get(sessionID string) (*domain.Record, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// Mutate runs fn against a copy of the record and commits the copy only when
// fn succeeds, the result validates and ctx is still live. A committed record
// carries the store clock's time in UpdatedAt.
func (s *DomainStore) Mutate(ctx context.Context, sessionID string, fn func(*domain.Record) error) error {
	e, err := s.entry(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	draft := e.rec.Clone()
	if err := fn(draft); err != nil {
		return err
	}
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("mutation left record invalid: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mutation abandoned: %w", err)
	}
	draft.Touch(s.now())
	e.rec = draft
	return nil
}

// Reset replaces the record with the default record of kind.
func (s *DomainStore) Reset(sessionID string, kind domain.Kind) (*domain.Record, error) {
	rec, err := domain.New(kind, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.Init(sessionID, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *DomainStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.TrimSpace(sessionID))
}
