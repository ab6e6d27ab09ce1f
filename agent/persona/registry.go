package persona

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
	promptx "github.com/tanpawarit/voice-persona-agents/agent/prompt"
	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var personasRaw []byte

// Persona is immutable after the registry is built.
type Persona struct {
	ID           string
	DisplayName  string
	VoiceID      string
	Domain       domain.Kind
	Instructions string
	Greeting     string
	Closing      string

	allowed []string
	allow   map[string]struct{}
}

func (p Persona) Allows(tool string) bool {
	_, ok := p.allow[tool]
	return ok
}

// AllowedTools returns the persona's tool names in declaration order.
func (p Persona) AllowedTools() []string {
	out := make([]string, len(p.allowed))
	copy(out, p.allowed)
	return out
}

type personaFile struct {
	Default  string         `yaml:"default"`
	Personas []personaEntry `yaml:"personas"`
}

type personaEntry struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	VoiceID     string   `yaml:"voice_id"`
	Domain      string   `yaml:"domain"`
	Template    string   `yaml:"template"`
	Greeting    string   `yaml:"greeting"`
	Closing     string   `yaml:"closing"`
	Tools       []string `yaml:"tools"`
}

type Registry struct {
	byID      map[string]Persona
	defaultID string
}

// Load builds the registry from the embedded persona file. defaultID
// overrides the file's default when set.
func Load(defaultID string) (*Registry, error) {
	return Parse(personasRaw, defaultID, promptx.Load)
}

// LoadFile builds the registry from a persona file on disk. Instruction
// templates still come from the embedded set.
func LoadFile(path, defaultID string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas: %w", err)
	}
	return Parse(data, defaultID, promptx.Load)
}

// Parse builds a registry from YAML. templates resolves instruction template
// names.
func Parse(data []byte, defaultID string, templates func(string) (string, error)) (*Registry, error) {
	var file personaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode personas: %v", contractx.ErrValidation, err)
	}

	reg := &Registry{byID: make(map[string]Persona, len(file.Personas))}
	for _, e := range file.Personas {
		p, err := buildPersona(e, templates)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate persona %q", contractx.ErrValidation, p.ID)
		}
		reg.byID[p.ID] = p
	}
	if len(reg.byID) == 0 {
		return nil, fmt.Errorf("%w: no personas configured", contractx.ErrValidation)
	}

	reg.defaultID = strings.TrimSpace(defaultID)
	if reg.defaultID == "" {
		reg.defaultID = strings.TrimSpace(file.Default)
	}
	if _, ok := reg.byID[reg.defaultID]; !ok {
		return nil, fmt.Errorf("%w: default persona %q is not configured", contractx.ErrValidation, reg.defaultID)
	}
	return reg, nil
}

func buildPersona(e personaEntry, templates func(string) (string, error)) (Persona, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return Persona{}, fmt.Errorf("%w: persona id is empty", contractx.ErrValidation)
	}
	kind, err := domain.ParseKind(e.Domain)
	if err != nil {
		return Persona{}, fmt.Errorf("persona %s: %w", id, err)
	}
	if strings.TrimSpace(e.VoiceID) == "" {
		return Persona{}, fmt.Errorf("%w: persona %s has no voice id", contractx.ErrValidation, id)
	}
	instructions, err := templates(e.Template)
	if err != nil {
		return Persona{}, fmt.Errorf("persona %s: %w", id, err)
	}

	p := Persona{
		ID:           id,
		DisplayName:  strings.TrimSpace(e.DisplayName),
		VoiceID:      strings.TrimSpace(e.VoiceID),
		Domain:       kind,
		Instructions: instructions,
		Greeting:     strings.TrimSpace(e.Greeting),
		Closing:      strings.TrimSpace(e.Closing),
		allow:        make(map[string]struct{}, len(e.Tools)),
	}
	for _, t := range e.Tools {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := p.allow[t]; dup {
			continue
		}
		p.allow[t] = struct{}{}
		p.allowed = append(p.allowed, t)
	}
	return p, nil
}

func (r *Registry) Get(id string) (Persona, bool) {
	p, ok := r.byID[strings.TrimSpace(id)]
	return p, ok
}

func (r *Registry) Default() Persona {
	return r.byID[r.defaultID]
}

// Resolve returns the persona for id, or the default persona when id is
// unknown. The second result reports whether the fallback was used; logging
// it is left to the caller, which knows the session.
func (r *Registry) Resolve(id string) (Persona, bool) {
	if p, ok := r.Get(id); ok {
		return p, false
	}
	return r.Default(), true
}

// List returns every persona sorted by id.
func (r *Registry) List() []Persona {
	out := make([]Persona, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CanHandoff reports whether from may pass the session to to. Both must
// exist and work on the same record kind.
func (r *Registry) CanHandoff(from, to string) error {
	src, ok := r.Get(from)
	if !ok {
		return fmt.Errorf("%w: unknown persona %q", contractx.ErrNotFound, from)
	}
	dst, ok := r.Get(to)
	if !ok {
		return fmt.Errorf("%w: unknown persona %q", contractx.ErrNotFound, to)
	}
	if src.ID == dst.ID {
		return fmt.Errorf("%w: %s is already speaking", contractx.ErrInvalidTransition, dst.ID)
	}
	if src.Domain != dst.Domain {
		return fmt.Errorf("%w: %s works on %s records, not %s", contractx.ErrInvalidTransition, dst.ID, dst.Domain, src.Domain)
	}
	return nil
}
