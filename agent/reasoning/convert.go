package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

func toSchemaMessages(history []contractx.Message) ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(history))
	for i, m := range history {
		switch m.Role {
		case contractx.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case contractx.RoleAssistant:
			msg := &schema.Message{Role: schema.Assistant, Content: m.Content}
			for _, tr := range m.ToolCalls {
				args, err := json.Marshal(tr.Args)
				if err != nil {
					return nil, fmt.Errorf("%w: encode args for %s: %v", contractx.ErrValidation, tr.Tool, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					ID:       tr.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: tr.Tool, Arguments: string(args)},
				})
			}
			out = append(out, msg)
		case contractx.RoleTool:
			out = append(out, &schema.Message{Role: schema.Tool, Content: m.Content, ToolCallID: m.ToolCallID})
		default:
			return nil, fmt.Errorf("%w: history[%d] has unknown role %q", contractx.ErrValidation, i, m.Role)
		}
	}
	return out, nil
}

func parseReply(msg *schema.Message) (contractx.ReasoningResponse, error) {
	if msg == nil {
		return contractx.ReasoningResponse{}, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}
	requests, err := toToolRequests(msg.ToolCalls)
	if err != nil {
		return contractx.ReasoningResponse{}, err
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" && len(requests) == 0 {
		return contractx.ReasoningResponse{}, fmt.Errorf("%w: response has neither text nor tool calls", contractx.ErrSchemaViolation)
	}
	return contractx.ReasoningResponse{Text: text, ToolRequests: requests}, nil
}

func toToolRequests(calls []schema.ToolCall) ([]contractx.ToolRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for i, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		reqs = append(reqs, contractx.ToolRequest{ID: id, Tool: tool, Args: args})
	}
	return reqs, nil
}
