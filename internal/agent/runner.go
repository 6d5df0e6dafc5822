// Package agent runs the tool-calling loop on top of the llm client: the
// model may call registered tools for a bounded number of steps before it has
// to answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/AgN1ke/aisus/internal/llm"
	"github.com/AgN1ke/aisus/internal/tools"
)

var (
	urlRegex = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

	// Phrases that suggest the user wants fresh information from the web.
	webTriggers = []string{
		"search", "google", "look up", "look it up", "latest", "news",
		"what's new", "current", "today's",
	}
)

// ShouldUseAgent decides whether a message gets the tool-calling loop or a
// plain completion. Explicit /think always opts in.
func ShouldUseAgent(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/think") {
		return true
	}
	if urlRegex.MatchString(trimmed) {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, trigger := range webTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

// StripTrigger removes the /think prefix so it never reaches the model.
func StripTrigger(text string) string {
	trimmed := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(trimmed, "/think"); ok {
		return strings.TrimSpace(rest)
	}
	return trimmed
}

// ChatClient is the completion surface the runner drives.
type ChatClient interface {
	ChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.Message, error)
}

type Runner struct {
	client   ChatClient
	registry *tools.Registry
	maxSteps int
}

func NewRunner(client ChatClient, registry *tools.Registry, maxSteps int) *Runner {
	if maxSteps <= 0 {
		maxSteps = 6
	}
	return &Runner{client: client, registry: registry, maxSteps: maxSteps}
}

// Run executes the tool loop: each step either answers or requests tool
// calls, whose results are fed back. After maxSteps the model must answer
// without tools. URLs seen in tool results come back as a source list.
func (r *Runner) Run(ctx context.Context, msgs []llm.Message) (string, error) {
	conversation := append([]llm.Message(nil), msgs...)
	specs := r.registry.Specs()
	sources := make([]string, 0, 4)
	seen := make(map[string]bool)

	for step := 0; step < r.maxSteps; step++ {
		resp, err := r.client.ChatCompletion(ctx, llm.ChatRequest{
			Messages: conversation,
			Tools:    specs,
		})
		if err != nil {
			return "", fmt.Errorf("agent step %d: %w", step+1, err)
		}
		if len(resp.ToolCalls) == 0 {
			return withSources(resp.Content, sources), nil
		}

		conversation = append(conversation, resp)
		for _, call := range resp.ToolCalls {
			result := r.executeCall(ctx, call)
			conversation = append(conversation, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
			for _, u := range urlRegex.FindAllString(result, -1) {
				if !seen[u] && len(sources) < 5 {
					seen[u] = true
					sources = append(sources, u)
				}
			}
		}
	}

	// Step budget exhausted: force a final answer without tools.
	resp, err := r.client.ChatCompletion(ctx, llm.ChatRequest{Messages: conversation})
	if err != nil {
		return "", fmt.Errorf("agent final answer: %w", err)
	}
	return withSources(resp.Content, sources), nil
}

// RunSimple is a single completion without tools.
func (r *Runner) RunSimple(ctx context.Context, msgs []llm.Message) (string, error) {
	resp, err := r.client.ChatCompletion(ctx, llm.ChatRequest{Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	return resp.Content, nil
}

func (r *Runner) executeCall(ctx context.Context, call llm.ToolCall) string {
	tool := r.registry.Get(call.Function.Name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %q", call.Function.Name)
	}

	var params map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
			return fmt.Sprintf("Error: bad tool arguments: %v", err)
		}
	}

	log.Printf("[agent] tool call %s(%s)", call.Function.Name, truncate(call.Function.Arguments, 120))
	result, err := tool.Execute(ctx, params)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

func withSources(answer string, sources []string) string {
	answer = strings.TrimSpace(answer)
	if len(sources) == 0 || answer == "" {
		return answer
	}
	var sb strings.Builder
	sb.WriteString(answer)
	sb.WriteString("\n\nSources:\n")
	for _, u := range sources {
		sb.WriteString("- " + u + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
