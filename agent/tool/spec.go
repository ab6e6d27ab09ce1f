package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

type ArgType string

const (
	TypeString  ArgType = "string"
	TypeInteger ArgType = "integer"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
)

// Arg describes one tool parameter. Min and Max bound integers and numbers;
// Enum restricts strings, compared without case.
type Arg struct {
	Name     string
	Type     ArgType
	Desc     string
	Required bool
	Min      *float64
	Max      *float64
	Enum     []string
}

func between(lo, hi float64) (*float64, *float64) {
	return &lo, &hi
}

// Call is what a handler sees. Record is a draft owned by the handler for
// the duration of the call; it is nil for tools that do not touch a record.
type Call struct {
	SessionID string
	PersonaID string
	Record    *domain.Record
	Args      Args
}

type Handler func(ctx context.Context, call *Call) (any, contractx.Control, error)

// Def is a tool in the catalog. Kind scopes the tool to one record kind;
// empty Kind marks a universal tool.
type Def struct {
	Name    string
	Desc    string
	Kind    domain.Kind
	Mutates bool
	Args    []Arg
	Handler Handler
}

func (d *Def) Info() *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(d.Args))
	for _, a := range d.Args {
		params[a.Name] = &schema.ParameterInfo{
			Type:     schemaType(a.Type),
			Desc:     a.Desc,
			Required: a.Required,
			Enum:     a.Enum,
		}
	}
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

func schemaType(t ArgType) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	case TypeNumber:
		return schema.Number
	case TypeBoolean:
		return schema.Boolean
	default:
		return schema.String
	}
}

// Args holds validated, normalized arguments: integers are int64, numbers
// float64, enum strings lower case.
type Args map[string]any

func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

func (a Args) Int(name string, fallback int64) int64 {
	v, ok := a[name].(int64)
	if !ok {
		return fallback
	}
	return v
}

func (a Args) Bool(name string) (bool, bool) {
	v, ok := a[name].(bool)
	return v, ok
}

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// validateArgs checks raw against the definition and describes the first
// problem in words a person can act on.
func validateArgs(d *Def, raw map[string]any) (Args, error) {
	known := make(map[string]Arg, len(d.Args))
	for _, a := range d.Args {
		known[a.Name] = a
	}

	var unknown []string
	for name := range raw {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s does not take %s", contractx.ErrInvalidArguments, d.Name, strings.Join(unknown, ", "))
	}

	out := make(Args, len(raw))
	for _, a := range d.Args {
		v, present := raw[a.Name]
		if !present || v == nil {
			if a.Required {
				return nil, fmt.Errorf("%w: %s is required", contractx.ErrInvalidArguments, a.Name)
			}
			continue
		}
		norm, err := normalizeArg(a, v)
		if err != nil {
			return nil, err
		}
		out[a.Name] = norm
	}
	return out, nil
}

func normalizeArg(a Arg, v any) (any, error) {
	switch a.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be text", contractx.ErrInvalidArguments, a.Name)
		}
		s = strings.TrimSpace(s)
		if s == "" && a.Required {
			return nil, fmt.Errorf("%w: %s must not be empty", contractx.ErrInvalidArguments, a.Name)
		}
		if len(a.Enum) > 0 {
			for _, allowed := range a.Enum {
				if strings.EqualFold(s, allowed) {
					return allowed, nil
				}
			}
			return nil, fmt.Errorf("%w: %s must be one of %s", contractx.ErrInvalidArguments, a.Name, strings.Join(a.Enum, ", "))
		}
		return s, nil

	case TypeInteger:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s must be a whole number", contractx.ErrInvalidArguments, a.Name)
		}
		if err := checkRange(a, f); err != nil {
			return nil, err
		}
		return int64(f), nil

	case TypeNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a number", contractx.ErrInvalidArguments, a.Name)
		}
		if err := checkRange(a, f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be true or false", contractx.ErrInvalidArguments, a.Name)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: %s has unsupported type %s", contractx.ErrInvalidArguments, a.Name, a.Type)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func checkRange(a Arg, f float64) error {
	if a.Min != nil && f < *a.Min {
		return fmt.Errorf("%w: %s must be at least %g", contractx.ErrInvalidArguments, a.Name, *a.Min)
	}
	if a.Max != nil && f > *a.Max {
		return fmt.Errorf("%w: %s must be at most %g", contractx.ErrInvalidArguments, a.Name, *a.Max)
	}
	return nil
}
