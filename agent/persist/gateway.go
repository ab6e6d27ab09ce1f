package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

var ErrNilBackend = errors.New("persistence backend is nil")

// Backend stores encoded records keyed by (kind, id). Get returns
// contract.ErrNotFound for a missing key. Put replaces the whole value in one
// step so a reader never sees a partial document. List returns the stored ids
// of one kind in no particular order.
type Backend interface {
	Put(ctx context.Context, kind domain.Kind, id string, payload []byte) error
	Get(ctx context.Context, kind domain.Kind, id string) ([]byte, error)
	List(ctx context.Context, kind domain.Kind) ([]string, error)
	Delete(ctx context.Context, kind domain.Kind, id string) error
	Close() error
}

// Notifier is told about every durable checkpoint.
type Notifier interface {
	Notify(ctx context.Context, rec *domain.Record, payload []byte) error
}

type GatewayOption func(*Gateway)

func WithNotifier(n Notifier) GatewayOption {
	return func(g *Gateway) {
		g.notifier = n
	}
}

// WithRetries sets how many extra attempts Save makes after a failed write.
func WithRetries(n int) GatewayOption {
	return func(g *Gateway) {
		if n >= 0 {
			g.retries = n
		}
	}
}

type Gateway struct {
	backend  Backend
	notifier Notifier
	retries  int
}

func NewGateway(backend Backend, opts ...GatewayOption) (*Gateway, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	g := &Gateway{
		backend: backend,
		retries: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Save writes a snapshot of rec exactly as given, so a later Load returns an
// equal record. Write failures are retried and then reported as
// contract.ErrPersistence; the in-memory record is never touched.
func (g *Gateway) Save(ctx context.Context, rec *domain.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", contractx.ErrPersistence)
	}
	snapshot := rec.Clone()

	payload, err := domain.Encode(snapshot)
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrPersistence, err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		lastErr = g.backend.Put(ctx, snapshot.Kind, snapshot.ID, payload)
		if lastErr == nil {
			break
		}
		log.Warn().Err(lastErr).
			Str("kind", string(snapshot.Kind)).
			Str("record_id", snapshot.ID).
			Int("attempt", attempt+1).
			Msg("persist record failed")
	}
	if lastErr != nil {
		return fmt.Errorf("%w: save %s/%s: %v", contractx.ErrPersistence, snapshot.Kind, snapshot.ID, lastErr)
	}

	if g.notifier != nil {
		if err := g.notifier.Notify(ctx, snapshot, payload); err != nil {
			log.Warn().Err(err).Str("record_id", snapshot.ID).Msg("checkpoint notification failed")
		}
	}
	return nil
}

// Load returns the stored record or contract.ErrNotFound.
func (g *Gateway) Load(ctx context.Context, kind domain.Kind, id string) (*domain.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: record id is empty", contractx.ErrValidation)
	}
	payload, err := g.backend.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, contractx.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load %s/%s: %v", contractx.ErrPersistence, kind, id, err)
	}

	rec, err := domain.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrPersistence, err)
	}
	if rec.Kind != kind {
		return nil, fmt.Errorf("%w: stored record %s has kind %s, want %s", contractx.ErrPersistence, id, rec.Kind, kind)
	}
	return rec, nil
}

// List loads every stored record of kind that passes keep, sorted by id. A
// nil keep returns them all. Documents that fail to decode are skipped.
func (g *Gateway) List(ctx context.Context, kind domain.Kind, keep func(*domain.Record) bool) ([]*domain.Record, error) {
	ids, err := g.backend.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", contractx.ErrPersistence, kind, err)
	}
	sort.Strings(ids)

	out := make([]*domain.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := g.Load(ctx, kind, id)
		if errors.Is(err, contractx.ErrNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("kind", string(kind)).Str("record_id", id).Msg("skipping unreadable record")
			continue
		}
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (g *Gateway) Delete(ctx context.Context, kind domain.Kind, id string) error {
	if err := g.backend.Delete(ctx, kind, id); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", contractx.ErrPersistence, kind, id, err)
	}
	return nil
}

func (g *Gateway) Close() error {
	return g.backend.Close()
}

func recordKey(kind domain.Kind, id string) string {
	return string(kind) + ":" + id
}
