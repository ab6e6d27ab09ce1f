package reasoning

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
	lastInput []*schema.Message
	boundTo   []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.boundTo = tools
	return f, nil
}

func newReasoner(t *testing.T, fake *fakeToolCallingModel, builds *int32) *Reasoner {
	t.Helper()
	r, err := New(func(context.Context, string) (einomodel.ToolCallingChatModel, error) {
		if builds != nil {
			atomic.AddInt32(builds, 1)
		}
		return fake, nil
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

var addItemInfo = &schema.ToolInfo{
	Name: "add_item",
	Desc: "Add a product to the cart.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"item_id": {Type: schema.String, Required: true},
	}),
}

func TestCompleteReturnsProse(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{{Role: schema.Assistant, Content: "  Hello there!  "}}}
	r := newReasoner(t, fake, nil)

	out, err := r.Complete(context.Background(), contractx.ReasoningRequest{
		PersonaID:    "robert",
		Instructions: "Use {braces} literally.",
		History:      []contractx.Message{{Role: contractx.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out.Text != "Hello there!" || out.WantsTools() {
		t.Fatalf("unexpected response: %+v", out)
	}
	if len(fake.lastInput) != 2 {
		t.Fatalf("model saw %d messages, want 2", len(fake.lastInput))
	}
	if fake.lastInput[0].Role != schema.System || fake.lastInput[0].Content != "Use {braces} literally." {
		t.Fatalf("system message = %+v", fake.lastInput[0])
	}
}

func TestCompleteMapsToolCalls(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "call_a", Type: "function", Function: schema.FunctionCall{Name: "add_item", Arguments: `{"item_id":"milk-1l","quantity":2}`}},
			{Type: "function", Function: schema.FunctionCall{Name: "show_cart"}},
		},
	}}}
	r := newReasoner(t, fake, nil)

	out, err := r.Complete(context.Background(), contractx.ReasoningRequest{
		PersonaID:    "robert",
		Instructions: "grocery",
		Tools:        []*schema.ToolInfo{addItemInfo},
		History:      []contractx.Message{{Role: contractx.RoleUser, Content: "two milks"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(out.ToolRequests) != 2 {
		t.Fatalf("tool requests = %+v", out.ToolRequests)
	}
	first := out.ToolRequests[0]
	if first.ID != "call_a" || first.Tool != "add_item" || first.Args["item_id"] != "milk-1l" || first.Args["quantity"] != float64(2) {
		t.Fatalf("first request = %+v", first)
	}
	if out.ToolRequests[1].ID == "" {
		t.Fatal("missing call ids must be filled in")
	}
	if len(fake.boundTo) != 1 || fake.boundTo[0].Name != "add_item" {
		t.Fatalf("bound tools = %+v", fake.boundTo)
	}
}

func TestCompleteReplaysToolHistory(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{{Role: schema.Assistant, Content: "Added."}}}
	r := newReasoner(t, fake, nil)

	_, err := r.Complete(context.Background(), contractx.ReasoningRequest{
		PersonaID:    "robert",
		Instructions: "grocery",
		History: []contractx.Message{
			{Role: contractx.RoleUser, Content: "milk"},
			{Role: contractx.RoleAssistant, ToolCalls: []contractx.ToolRequest{{ID: "c1", Tool: "add_item", Args: map[string]any{"item_id": "milk-1l"}}}},
			{Role: contractx.RoleTool, Content: `{"ok":true}`, ToolCallID: "c1"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	in := fake.lastInput
	if len(in) != 4 {
		t.Fatalf("model saw %d messages, want 4", len(in))
	}
	if len(in[2].ToolCalls) != 1 || in[2].ToolCalls[0].Function.Arguments != `{"item_id":"milk-1l"}` {
		t.Fatalf("assistant tool call = %+v", in[2].ToolCalls)
	}
	if in[3].Role != schema.Tool || in[3].ToolCallID != "c1" {
		t.Fatalf("tool message = %+v", in[3])
	}
}

func TestCompleteRejectsEmptyResponse(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{{Role: schema.Assistant, Content: "   "}}}
	r := newReasoner(t, fake, nil)

	_, err := r.Complete(context.Background(), contractx.ReasoningRequest{PersonaID: "robert", Instructions: "x"})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("Complete() error = %v, want ErrSchemaViolation", err)
	}
}

func TestCompleteWrapsModelErrors(t *testing.T) {
	t.Parallel()

	r := newReasoner(t, &fakeToolCallingModel{err: errors.New("boom")}, nil)
	_, err := r.Complete(context.Background(), contractx.ReasoningRequest{PersonaID: "robert", Instructions: "x"})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Complete() error = %v, want ErrModelInvoke", err)
	}
}

func TestCompleteReportsDeadlineAsTimeout(t *testing.T) {
	t.Parallel()

	r := newReasoner(t, &fakeToolCallingModel{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := r.Complete(ctx, contractx.ReasoningRequest{PersonaID: "robert", Instructions: "x"})
	if !errors.Is(err, contractx.ErrExternalTimeout) {
		t.Fatalf("Complete() error = %v, want ErrExternalTimeout", err)
	}
}

func TestCompileIsCachedPerPersona(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		{Role: schema.Assistant, Content: "one"},
		{Role: schema.Assistant, Content: "two"},
	}}
	var builds int32
	r := newReasoner(t, fake, &builds)

	req := contractx.ReasoningRequest{PersonaID: "robert", Instructions: "x", Tools: []*schema.ToolInfo{addItemInfo}}
	for i := 0; i < 2; i++ {
		if _, err := r.Complete(context.Background(), req); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("model built %d times, want 1", got)
	}
}

func TestCompleteRequiresInstructions(t *testing.T) {
	t.Parallel()

	r := newReasoner(t, &fakeToolCallingModel{}, nil)
	_, err := r.Complete(context.Background(), contractx.ReasoningRequest{PersonaID: "robert"})
	if !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("Complete() error = %v, want ErrPromptMissing", err)
	}
}
