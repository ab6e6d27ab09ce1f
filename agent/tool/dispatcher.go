package tool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	"github.com/tanpawarit/voice-persona-agents/agent/state"
	metricsx "github.com/tanpawarit/voice-persona-agents/pkg/metrics"
)

const defaultToolTimeout = 5 * time.Second

// RecordLoader reads durable records. The persistence gateway satisfies it.
type RecordLoader interface {
	Load(ctx context.Context, kind domain.Kind, id string) (*domain.Record, error)
	List(ctx context.Context, kind domain.Kind, keep func(*domain.Record) bool) ([]*domain.Record, error)
}

type Option func(*Dispatcher)

func WithCatalog(c *domain.Catalog) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.catalog = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithRoll replaces the dice source. roll(n) must return a value in [0, n).
func WithRoll(roll func(n int) int) Option {
	return func(d *Dispatcher) {
		if roll != nil {
			d.roll = roll
		}
	}
}

func WithRecordLoader(l RecordLoader) Option {
	return func(d *Dispatcher) {
		d.records = l
	}
}

// WithOrderRef replaces the generator of the reference that ends every
// order id.
func WithOrderRef(ref func() string) Option {
	return func(d *Dispatcher) {
		if ref != nil {
			d.orderRef = ref
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithMetrics(m *metricsx.Recorder) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher routes tool requests to handlers after checking the persona's
// allowed set and the argument shape.
type Dispatcher struct {
	defs     map[string]*Def
	personas *persona.Registry
	store    *state.DomainStore
	catalog  *domain.Catalog
	records  RecordLoader
	now      func() time.Time
	roll     func(n int) int
	orderRef func() string
	timeout  time.Duration
	metrics  *metricsx.Recorder
}

func NewDispatcher(personas *persona.Registry, store *state.DomainStore, opts ...Option) (*Dispatcher, error) {
	if personas == nil {
		return nil, fmt.Errorf("%w: persona registry is required", contractx.ErrValidation)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: domain store is required", contractx.ErrValidation)
	}

	d := &Dispatcher{
		defs:     make(map[string]*Def),
		personas: personas,
		store:    store,
		now:      time.Now,
		roll:     rand.Intn,
		orderRef: newOrderRef,
		timeout:  defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.catalog == nil {
		d.catalog = domain.DefaultCatalog()
	}

	for _, def := range d.builtins() {
		if _, dup := d.defs[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tool %q", contractx.ErrValidation, def.Name)
		}
		d.defs[def.Name] = def
	}
	if err := d.checkPersonas(); err != nil {
		return nil, err
	}
	return d, nil
}

// checkPersonas fails when a persona names a tool that does not exist or
// that belongs to another record kind.
func (d *Dispatcher) checkPersonas() error {
	for _, p := range d.personas.List() {
		for _, name := range p.AllowedTools() {
			def, ok := d.defs[name]
			if !ok {
				return fmt.Errorf("%w: persona %s lists unknown tool %q", contractx.ErrValidation, p.ID, name)
			}
			if def.Kind != "" && def.Kind != p.Domain {
				return fmt.Errorf("%w: persona %s works on %s records but tool %s needs %s", contractx.ErrValidation, p.ID, p.Domain, name, def.Kind)
			}
		}
	}
	return nil
}

// Infos returns the tool descriptions the persona may use, in its declared
// order.
func (d *Dispatcher) Infos(p persona.Persona) []*schema.ToolInfo {
	names := p.AllowedTools()
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		if def, ok := d.defs[name]; ok {
			out = append(out, def.Info())
		}
	}
	return out
}

// Names lists every tool in the catalog.
func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.defs))
	for name := range d.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs one tool for the session's current persona. Failures never
// escape as Go errors; they come back as a ToolResult with Error and Code set.
func (d *Dispatcher) Invoke(ctx context.Context, sess *state.Session, name string, args map[string]any) contractx.ToolResult {
	name = strings.TrimSpace(name)
	result := contractx.ToolResult{Tool: name}
	if sess == nil {
		return d.fail(result, fmt.Errorf("%w: no session", contractx.ErrSessionNotFound))
	}
	logger := log.With().Str("session_id", sess.ID).Str("persona", sess.PersonaID).Str("tool", name).Logger()

	p, ok := d.personas.Get(sess.PersonaID)
	def, known := d.defs[name]
	if !ok || !known || !p.Allows(name) {
		logger.Warn().Msg("tool not allowed for persona")
		return d.fail(result, fmt.Errorf("%w: %s cannot use %s", contractx.ErrToolNotAllowed, sess.PersonaID, name))
	}

	parsed, err := validateArgs(def, args)
	if err != nil {
		logger.Debug().Err(err).Msg("tool arguments rejected")
		return d.fail(result, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	call := &Call{SessionID: sess.ID, PersonaID: p.ID, Args: parsed}
	var (
		out     any
		control contractx.Control
	)
	run := func(rec *domain.Record) error {
		if def.Kind != "" && (rec == nil || rec.Kind != def.Kind) {
			return fmt.Errorf("%w: session holds no %s record", contractx.ErrInvalidTransition, def.Kind)
		}
		call.Record = rec
		var herr error
		out, control, herr = def.Handler(callCtx, call)
		return herr
	}

	switch {
	case def.Kind == "":
		err = run(nil)
	case def.Mutates:
		err = d.store.Mutate(callCtx, sess.ID, run)
	default:
		var rec *domain.Record
		rec, err = d.store.Get(sess.ID)
		if err == nil {
			err = run(rec)
		}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s took longer than %s", contractx.ErrExternalTimeout, name, d.timeout)
			d.metrics.ExternalTimeout("tool")
		}
		logger.Info().Err(err).Msg("tool failed")
		return d.fail(result, err)
	}

	control.Mutated = def.Mutates
	result.Result = out
	result.Control = control
	d.metrics.ToolCall(name, "")
	logger.Debug().Bool("checkpoint", control.Checkpoint).Str("handoff_to", control.HandoffTo).Msg("tool completed")
	return result
}

func (d *Dispatcher) fail(result contractx.ToolResult, err error) contractx.ToolResult {
	result.Error = err.Error()
	result.Code = contractx.CodeFor(err)
	d.metrics.ToolCall(result.Tool, string(result.Code))
	return result
}

func (d *Dispatcher) builtins() []*Def {
	var defs []*Def
	defs = append(defs, d.universalTools()...)
	defs = append(defs, d.cartTools()...)
	defs = append(defs, d.caseTools()...)
	defs = append(defs, d.characterTools()...)
	defs = append(defs, d.quizTools()...)
	defs = append(defs, d.leadTools()...)
	return defs
}
