package reasoning

import (
	"context"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	llmx "github.com/tanpawarit/voice-persona-agents/agent/llm"
	"golang.org/x/sync/singleflight"
)

// ModelFactory creates the chat model a persona reasons with.
type ModelFactory func(ctx context.Context, personaID string) (einomodel.ToolCallingChatModel, error)

// OpenRouterModels resolves per-persona model settings from cfg.
func OpenRouterModels(cfg llmx.Config) ModelFactory {
	return func(ctx context.Context, personaID string) (einomodel.ToolCallingChatModel, error) {
		modelCfg := cfg.OpenRouterFor(personaID)
		return modelCfg.New(ctx)
	}
}

type runner = compose.Runnable[map[string]any, *schema.Message]

// Reasoner adapts eino chat models to the contract.Reasoner interface. A graph
// is compiled once per persona and tool set, then reused.
type Reasoner struct {
	newModel ModelFactory

	mu      sync.RWMutex
	runners map[string]runner
	group   singleflight.Group
}

var _ contractx.Reasoner = (*Reasoner)(nil)

func New(newModel ModelFactory) (*Reasoner, error) {
	if newModel == nil {
		return nil, fmt.Errorf("%w: model factory is required", contractx.ErrValidation)
	}
	return &Reasoner{newModel: newModel, runners: make(map[string]runner)}, nil
}

func (r *Reasoner) Complete(ctx context.Context, req contractx.ReasoningRequest) (contractx.ReasoningResponse, error) {
	if strings.TrimSpace(req.PersonaID) == "" {
		return contractx.ReasoningResponse{}, fmt.Errorf("%w: persona id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.Instructions) == "" {
		return contractx.ReasoningResponse{}, fmt.Errorf("%w: persona %s has no instructions", contractx.ErrPromptMissing, req.PersonaID)
	}

	history, err := toSchemaMessages(req.History)
	if err != nil {
		return contractx.ReasoningResponse{}, err
	}

	run, err := r.runnerFor(ctx, req.PersonaID, req.Tools)
	if err != nil {
		return contractx.ReasoningResponse{}, err
	}

	msg, err := run.Invoke(ctx, map[string]any{
		varInstructions: req.Instructions,
		varHistory:      history,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contractx.ReasoningResponse{}, fmt.Errorf("%w: reasoning for %s: %w", contractx.ErrExternalTimeout, req.PersonaID, ctxErr)
		}
		return contractx.ReasoningResponse{}, fmt.Errorf("%w: persona=%s: %v", contractx.ErrModelInvoke, req.PersonaID, err)
	}
	return parseReply(msg)
}

func (r *Reasoner) runnerFor(ctx context.Context, personaID string, tools []*schema.ToolInfo) (runner, error) {
	key := cacheKey(personaID, tools)

	r.mu.RLock()
	run, ok := r.runners[key]
	r.mu.RUnlock()
	if ok {
		return run, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.runners[key]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		built, err := r.compile(context.WithoutCancel(ctx), personaID, tools)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.runners[key] = built
		r.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(runner), nil
}

func (r *Reasoner) compile(ctx context.Context, personaID string, tools []*schema.ToolInfo) (runner, error) {
	chatModel, err := r.newModel(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("%w: create model for persona=%s: %v", contractx.ErrModelInvoke, personaID, err)
	}

	var bound einomodel.BaseChatModel = chatModel
	if len(tools) > 0 {
		withTools, err := chatModel.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for persona=%s: %v", contractx.ErrModelInvoke, personaID, err)
		}
		bound = withTools
	}

	run, err := compilePersonaGraph(ctx, bound, "persona."+personaID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return run, nil
}

func cacheKey(personaID string, tools []*schema.ToolInfo) string {
	var b strings.Builder
	b.WriteString(personaID)
	for _, t := range tools {
		if t == nil {
			continue
		}
		b.WriteByte('|')
		b.WriteString(t.Name)
	}
	return b.String()
}
