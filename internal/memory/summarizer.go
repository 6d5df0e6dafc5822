package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AgN1ke/aisus/internal/tokens"
)

const summarySystemPrompt = `You compress chat history into long-term memory.
Given a block of dialogue, reply with exactly two sections:

SUMMARY: a compact summary of the facts, decisions and context worth keeping.
IMPORTANCE: a single decimal between 0 and 1 for how important this block is.`

const summaryUserTemplate = `Compress the following dialogue block:

%s`

// fallbackSummaryChars bounds the truncation summary used when no generator
// is configured.
const fallbackSummaryChars = 200

var (
	summaryRegex    = regexp.MustCompile(`(?s)SUMMARY:\s*(.+?)(?:\n+[A-Z]+:|$)`)
	importanceRegex = regexp.MustCompile(`IMPORTANCE:\s*([0-1](?:\.\d+)?)`)
)

// Generator is the external text-generation capability the summarizer rides
// on. A nil Generator puts the summarizer in degraded mode.
type Generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// BlockSummary is the result of compressing one block of dialogue.
type BlockSummary struct {
	Summary    string
	Importance float64
	Tokens     int
}

// Summarizer collapses an ordered block of role-tagged messages into one
// compact summary with an importance score.
type Summarizer struct {
	gen     Generator
	counter *tokens.Counter
	model   string
}

// NewSummarizer creates a Summarizer. gen may be nil, in which case
// SummarizeBlock deterministically truncates instead of calling out.
func NewSummarizer(gen Generator, counter *tokens.Counter, model string) *Summarizer {
	return &Summarizer{gen: gen, counter: counter, model: model}
}

// SummarizeBlock compresses messages into a BlockSummary. Generation errors
// propagate unretried; malformed generator output never fails and degrades to
// the whole text with importance 0.5.
func (s *Summarizer) SummarizeBlock(ctx context.Context, messages []tokens.Message) (BlockSummary, error) {
	block := formatBlock(messages)

	if s.gen == nil {
		summary := block
		// Truncate on rune boundaries; a byte cut would corrupt Cyrillic text.
		if runes := []rune(summary); len(runes) > fallbackSummaryChars {
			summary = string(runes[:fallbackSummaryChars])
		}
		return BlockSummary{
			Summary:    summary,
			Importance: 0.5,
			Tokens:     s.counter.CountText(summary, s.model),
		}, nil
	}

	text, err := s.gen.Complete(ctx, summarySystemPrompt, fmt.Sprintf(summaryUserTemplate, block))
	if err != nil {
		return BlockSummary{}, fmt.Errorf("summarize block: %w", err)
	}
	text = strings.TrimSpace(text)

	summary := text
	if m := summaryRegex.FindStringSubmatch(text); m != nil {
		summary = strings.TrimSpace(m[1])
	}

	importance := 0.5
	if m := importanceRegex.FindStringSubmatch(text); m != nil {
		if parsed, err := strconv.ParseFloat(m[1], 64); err == nil {
			importance = parsed
		}
	}

	return BlockSummary{
		Summary:    summary,
		Importance: clamp01(importance),
		Tokens:     s.counter.CountText(summary, s.model),
	}, nil
}

// formatBlock renders messages as newline-joined "role: content" lines,
// skipping empty contents.
func formatBlock(messages []tokens.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		lines = append(lines, role+": "+text)
	}
	return strings.Join(lines, "\n")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
