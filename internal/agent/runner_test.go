package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/AgN1ke/aisus/internal/llm"
	"github.com/AgN1ke/aisus/internal/tools"
)

type mockChatClient struct {
	responses []llm.Message
	requests  []llm.ChatRequest
	err       error
}

func (m *mockChatClient) ChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return llm.Message{}, m.err
	}
	if len(m.responses) == 0 {
		return llm.Message{Role: "assistant", Content: "done"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

type echoTool struct {
	name    string
	result  string
	calls   int
	lastArg map[string]any
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echo" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (e *echoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	e.calls++
	e.lastArg = params
	return e.result, nil
}

func TestShouldUseAgent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/think about this carefully", true},
		{"check https://go.dev/blog please", true},
		{"search for go generics", true},
		{"what's the latest on the release", true},
		{"how are you today", false},
		{"tell me a joke", false},
	}
	for _, tt := range tests {
		if got := ShouldUseAgent(tt.text); got != tt.want {
			t.Errorf("ShouldUseAgent(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestStripTrigger(t *testing.T) {
	if got := StripTrigger("/think hard question"); got != "hard question" {
		t.Errorf("StripTrigger = %q", got)
	}
	if got := StripTrigger("plain question"); got != "plain question" {
		t.Errorf("StripTrigger = %q", got)
	}
}

func TestRun_NoToolCallsAnswersDirectly(t *testing.T) {
	client := &mockChatClient{responses: []llm.Message{
		{Role: "assistant", Content: "direct answer"},
	}}
	r := NewRunner(client, tools.NewRegistry(&echoTool{name: "noop"}), 3)

	out, err := r.Run(context.Background(), []llm.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out != "direct answer" {
		t.Errorf("out = %q", out)
	}
	if len(client.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(client.requests))
	}
	if len(client.requests[0].Tools) != 1 {
		t.Errorf("tools in request = %d, want 1", len(client.requests[0].Tools))
	}
}

func TestRun_ExecutesToolAndAppendsSources(t *testing.T) {
	tool := &echoTool{name: "web_search", result: "1. Go blog\n   https://go.dev/blog"}
	client := &mockChatClient{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "web_search",
				Arguments: `{"query":"go blog"}`,
			},
		}}},
		{Role: "assistant", Content: "the blog says hello"},
	}}
	r := NewRunner(client, tools.NewRegistry(tool), 3)

	out, err := r.Run(context.Background(), []llm.Message{{Role: "user", Content: "search go blog"}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1", tool.calls)
	}
	if tool.lastArg["query"] != "go blog" {
		t.Errorf("tool args = %v", tool.lastArg)
	}
	if !strings.Contains(out, "the blog says hello") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "Sources:\n- https://go.dev/blog") {
		t.Errorf("out = %q, want source list", out)
	}

	// Second request must carry the tool result back.
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("last message = %+v, want tool result", last)
	}
}

func TestRun_UnknownToolReportsError(t *testing.T) {
	client := &mockChatClient{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: llm.FunctionCall{Name: "no_such_tool", Arguments: "{}"},
		}}},
		{Role: "assistant", Content: "ok"},
	}}
	r := NewRunner(client, tools.NewRegistry(), 3)

	if _, err := r.Run(context.Background(), []llm.Message{{Role: "user", Content: "go"}}); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("tool result = %q, want unknown tool error", last.Content)
	}
}

func TestRun_MaxStepsForcesFinalAnswer(t *testing.T) {
	toolCall := llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{
		ID:       "loop",
		Type:     "function",
		Function: llm.FunctionCall{Name: "noop", Arguments: "{}"},
	}}}
	client := &mockChatClient{responses: []llm.Message{
		toolCall, toolCall,
		{Role: "assistant", Content: "forced answer"},
	}}
	r := NewRunner(client, tools.NewRegistry(&echoTool{name: "noop", result: "nothing"}), 2)

	out, err := r.Run(context.Background(), []llm.Message{{Role: "user", Content: "go"}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out != "forced answer" {
		t.Errorf("out = %q", out)
	}
	// The forced final request carries no tools.
	final := client.requests[len(client.requests)-1]
	if len(final.Tools) != 0 {
		t.Errorf("final request tools = %d, want 0", len(final.Tools))
	}
}

func TestRun_ClientErrorPropagates(t *testing.T) {
	clientErr := errors.New("llm down")
	client := &mockChatClient{err: clientErr}
	r := NewRunner(client, tools.NewRegistry(), 2)

	_, err := r.Run(context.Background(), []llm.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, clientErr) {
		t.Errorf("error = %v, want wrapped client error", err)
	}
}

func TestRunSimple(t *testing.T) {
	client := &mockChatClient{responses: []llm.Message{
		{Role: "assistant", Content: "simple"},
	}}
	r := NewRunner(client, tools.NewRegistry(), 2)

	out, err := r.RunSimple(context.Background(), []llm.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("RunSimple error: %v", err)
	}
	if out != "simple" {
		t.Errorf("out = %q", out)
	}
	if len(client.requests[0].Tools) != 0 {
		t.Errorf("tools = %d, want none", len(client.requests[0].Tools))
	}
}
