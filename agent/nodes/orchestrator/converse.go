package orchestratornode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
	metricsx "github.com/tanpawarit/voice-persona-agents/pkg/metrics"
)

const (
	DefaultReasonTimeout = 20 * time.Second
	DefaultMaxToolRounds = 3

	reasonAttempts = 2
)

// ToolInvoker is the slice of the tool dispatcher a turn needs.
type ToolInvoker interface {
	Invoke(ctx context.Context, sess *statex.Session, name string, args map[string]any) contractx.ToolResult
	Infos(p persona.Persona) []*schema.ToolInfo
}

type ConverseConfig struct {
	ReasonTimeout time.Duration
	MaxToolRounds int
}

func (c ConverseConfig) withDefaults() ConverseConfig {
	if c.ReasonTimeout <= 0 {
		c.ReasonTimeout = DefaultReasonTimeout
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	return c
}

// Converse runs the reasoning and tool loop for one turn. It always leaves a
// reply in the state unless the turn context itself is gone.
func Converse(
	ctx context.Context,
	in *GraphState,
	reasoner contractx.Reasoner,
	tools ToolInvoker,
	cfg ConverseConfig,
	metrics *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	cfg = cfg.withDefaults()
	sess := in.Session
	mark := len(sess.Context)
	sess.Remember(contractx.Message{Role: contractx.RoleUser, Content: in.Text})
	infos := tools.Infos(in.Persona)

	for round := 0; ; round++ {
		resp, err := reason(ctx, in, reasoner, infos, cfg.ReasonTimeout, metrics)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("turn abandoned: %w", ctx.Err())
			}
			in.Logger.Warn().Err(err).Int("round", round).Msg("reasoning failed")
			if round == 0 {
				sess.Context = sess.Context[:mark]
			}
			in.Reply = apologyFor(err)
			return in, nil
		}

		if !resp.WantsTools() {
			in.Reply = resp.Text
			sess.Remember(contractx.Message{Role: contractx.RoleAssistant, Content: resp.Text})
			return in, nil
		}

		if round >= cfg.MaxToolRounds {
			in.Logger.Warn().Int("rounds", round).Msg("tool round limit reached")
			in.Reply = resp.Text
			if in.Reply == "" {
				in.Reply = "Sorry, I got a bit stuck on that. Could you put it another way?"
			}
			sess.Remember(contractx.Message{Role: contractx.RoleAssistant, Content: in.Reply})
			return in, nil
		}

		sess.Remember(contractx.Message{Role: contractx.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolRequests})
		failed := runTools(ctx, in, tools, resp.ToolRequests)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("turn abandoned: %w", ctx.Err())
		}
		if failed != nil {
			in.ToolFailed = true
			in.Reply = clarification(*failed)
			sess.Remember(contractx.Message{Role: contractx.RoleAssistant, Content: in.Reply})
			return in, nil
		}
		if in.Control.EndSession {
			in.Terminate = true
			in.Reply = resp.Text
			return in, nil
		}
	}
}

// reason calls the collaborator with a per-call timeout and retries a
// timed-out call once.
func reason(
	ctx context.Context,
	in *GraphState,
	reasoner contractx.Reasoner,
	infos []*schema.ToolInfo,
	timeout time.Duration,
	metrics *metricsx.Recorder,
) (contractx.ReasoningResponse, error) {
	req := contractx.ReasoningRequest{
		SessionID:    in.Session.ID,
		PersonaID:    in.Persona.ID,
		Instructions: in.Persona.Instructions,
		History:      append([]contractx.Message(nil), in.Session.Context...),
		Tools:        infos,
	}

	var lastErr error
	for attempt := 1; attempt <= reasonAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := reasoner.Complete(callCtx, req)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return contractx.ReasoningResponse{}, ctx.Err()
		}
		if !timedOut && !errors.Is(err, contractx.ErrExternalTimeout) {
			return contractx.ReasoningResponse{}, err
		}
		metrics.ExternalTimeout("reasoner")
		in.Logger.Warn().Int("attempt", attempt).Dur("timeout", timeout).Msg("reasoning timed out")
		lastErr = fmt.Errorf("%w: reasoning exceeded %s", contractx.ErrExternalTimeout, timeout)
	}
	return contractx.ReasoningResponse{}, lastErr
}

// runTools executes requests in order and folds every result into the
// reasoning context. After the first failure the rest are skipped.
func runTools(ctx context.Context, in *GraphState, tools ToolInvoker, reqs []contractx.ToolRequest) *contractx.ToolResult {
	var failed *contractx.ToolResult
	for _, req := range reqs {
		if failed != nil || ctx.Err() != nil {
			in.Session.Remember(toolMessage(req.ID, contractx.ToolResult{
				Tool:  req.Tool,
				Error: "skipped after an earlier failure",
				Code:  contractx.CodeRejected,
			}))
			continue
		}

		res := tools.Invoke(ctx, in.Session, req.Tool, req.Args)
		in.Session.Remember(toolMessage(req.ID, res))
		if res.Failed() {
			in.Logger.Info().Str("tool", req.Tool).Str("code", string(res.Code)).Msg("tool failed, asking for clarification")
			failed = &res
			continue
		}
		in.Control = in.Control.Merge(res.Control)
		if res.Control.Mutated {
			in.Session.Dirty = true
		}
	}
	return failed
}

func toolMessage(callID string, res contractx.ToolResult) contractx.Message {
	body, err := json.Marshal(res)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"tool":%q,"error":"result could not be encoded"}`, res.Tool))
	}
	return contractx.Message{Role: contractx.RoleTool, Content: string(body), ToolCallID: callID}
}

func apologyFor(err error) string {
	if errors.Is(err, contractx.ErrExternalTimeout) {
		return "Sorry, I'm taking too long to think that through. Could you say that again?"
	}
	return "Sorry, I ran into a problem on my side. Could you say that again?"
}

var errorPrefixes = []error{
	contractx.ErrInvalidArguments,
	contractx.ErrNotFound,
	contractx.ErrInvalidTransition,
	contractx.ErrValidation,
}

func clarification(res contractx.ToolResult) string {
	detail := humanize(res.Error)
	switch res.Code {
	case contractx.CodeInvalidArguments:
		return sentences("Sorry, I didn't quite get that.", detail, "Could you tell me again?")
	case contractx.CodeNotFound:
		return sentences("Sorry, I couldn't find that.", detail, "Could you check and try again?")
	case contractx.CodeRejected:
		return sentences("I can't do that just yet.", detail)
	case contractx.CodeToolNotAllowed:
		return "Sorry, that's not something I can help with here."
	case contractx.CodeTimeout:
		return "Sorry, that took longer than expected. Shall we try again?"
	default:
		return "Sorry, something went wrong on my side. Could you say that again?"
	}
}

// humanize strips the sentinel prefix from a tool error and makes it a
// sentence.
func humanize(msg string) string {
	msg = strings.TrimSpace(msg)
	for _, sentinel := range errorPrefixes {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	if msg == "" {
		return ""
	}
	msg = strings.ToUpper(msg[:1]) + msg[1:]
	if !strings.HasSuffix(msg, ".") && !strings.HasSuffix(msg, "?") {
		msg += "."
	}
	return msg
}

func sentences(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
