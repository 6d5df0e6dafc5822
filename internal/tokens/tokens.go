// Package tokens estimates token costs for budget decisions. Counts are exact
// when a tokenizer for the model is available and a chars/4 heuristic
// otherwise; both are stable for a given model id.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultModel is used when the caller passes an empty model id.
	DefaultModel = "gpt-4o-mini"

	fallbackEncoding = "cl100k_base"

	// Per-message overhead for role and chat formatting.
	messageOverhead = 4

	heuristicCharsPerToken = 4
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string
	Content string
}

// Encoder counts tokens for a piece of text.
type Encoder interface {
	Count(text string) int
}

// EncoderLoader resolves a model id to an Encoder. Returning an error selects
// the character heuristic for that model.
type EncoderLoader func(model string) (Encoder, error)

type tiktokenEncoder struct {
	tk *tiktoken.Tiktoken
}

func (e *tiktokenEncoder) Count(text string) int {
	return len(e.tk.Encode(text, nil, nil))
}

func defaultLoader(model string) (Encoder, error) {
	tk, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tk, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	return &tiktokenEncoder{tk: tk}, nil
}

// Counter caches one encoder per model id. Safe for concurrent use; entries
// are populated lazily and never invalidated.
type Counter struct {
	loader EncoderLoader

	mu       sync.Mutex
	encoders map[string]Encoder
}

func NewCounter() *Counter {
	return NewCounterWithLoader(defaultLoader)
}

// NewCounterWithLoader creates a Counter with a custom encoder loader
// (for testing).
func NewCounterWithLoader(loader EncoderLoader) *Counter {
	return &Counter{
		loader:   loader,
		encoders: make(map[string]Encoder),
	}
}

// encoderFor returns the cached encoder for model, or nil when no tokenizer
// is available. A failed load is cached as nil so the heuristic sticks.
func (c *Counter) encoderFor(model string) Encoder {
	if model == "" {
		model = DefaultModel
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[model]; ok {
		return enc
	}
	enc, err := c.loader(model)
	if err != nil {
		enc = nil
	}
	c.encoders[model] = enc
	return enc
}

// CountText returns the token count of text under the given model's rules.
// Empty text costs 0.
func (c *Counter) CountText(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoderFor(model); enc != nil {
		return enc.Count(text)
	}
	return (len(text) + heuristicCharsPerToken - 1) / heuristicCharsPerToken
}

// CountMessages sums CountText over the messages plus a fixed per-message
// overhead for role and formatting.
func (c *Counter) CountMessages(messages []Message, model string) int {
	total := 0
	for _, m := range messages {
		total += c.CountText(m.Content, model)
		total += messageOverhead
	}
	return total
}

// TrimToBudget returns the longest suffix of messages whose CountMessages
// fits the budget, preserving order. Messages are dropped whole from the
// front, never truncated; a single trailing message larger than the budget
// yields an empty result.
func (c *Counter) TrimToBudget(messages []Message, budget int, model string) []Message {
	acc := make([]Message, 0, len(messages))
	for _, m := range messages {
		acc = append(acc, m)
		if c.CountMessages(acc, model) > budget {
			for len(acc) > 0 && c.CountMessages(acc, model) > budget {
				acc = acc[1:]
			}
		}
	}
	for len(acc) > 0 && c.CountMessages(acc, model) > budget {
		acc = acc[1:]
	}
	return acc
}
