// Package memory keeps each chat's unbounded history inside fixed token
// budgets: raw turns live in a recent tier, overflow is compressed into
// scored long-term summaries, and context assembly picks the most relevant
// of both for every request.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AgN1ke/aisus/internal/tokens"
)

// LongMemoMarker prefixes long-tier content in assembled contexts so
// downstream consumers can tell it apart from live dialogue.
const LongMemoMarker = "[LONG-MEMO] "

const (
	DefaultRecentBudget    = 10000
	DefaultLongBudget      = 30000
	DefaultCompressPortion = 0.35
)

var keywordRegex = regexp.MustCompile(`\w+`)

// Config tunes the memory manager's budgets.
type Config struct {
	// RecentBudget is the soft token ceiling for the recent tier per chat.
	RecentBudget int
	// LongBudget caps the long-summary tokens included in one context.
	LongBudget int
	// CompressPortion is the fraction of RecentBudget each compression pass
	// targets to free.
	CompressPortion float64
	// Model selects the tokenizer rules used for all accounting.
	Model string
}

func (c Config) withDefaults() Config {
	if c.RecentBudget <= 0 {
		c.RecentBudget = DefaultRecentBudget
	}
	if c.LongBudget <= 0 {
		c.LongBudget = DefaultLongBudget
	}
	if c.CompressPortion <= 0 || c.CompressPortion > 1 {
		c.CompressPortion = DefaultCompressPortion
	}
	return c
}

// Manager orchestrates the two memory tiers. It is stateless across calls;
// all chat state lives in the stores.
type Manager struct {
	cfg        Config
	recent     RecentStore
	long       LongStore
	summarizer *Summarizer
	counter    *tokens.Counter
}

func NewManager(cfg Config, recent RecentStore, long LongStore, summarizer *Summarizer, counter *tokens.Counter) *Manager {
	return &Manager{
		cfg:        cfg.withDefaults(),
		recent:     recent,
		long:       long,
		summarizer: summarizer,
		counter:    counter,
	}
}

// AppendMessage records one turn in the recent tier. This is a pure write:
// no budget check happens here, so the hot path stays one insert.
func (m *Manager) AppendMessage(ctx context.Context, chatID int64, role, content string) error {
	count := m.counter.CountText(content, m.cfg.Model)
	if _, err := m.recent.InsertRecent(ctx, chatID, role, content, count); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// EnsureBudget compresses the oldest recent turns into a long summary when
// the recent tier exceeds its budget. Under budget it is a cheap no-op, which
// also makes it idempotent under retry. The delete only covers rows that were
// actually summarized, and only after the summary is durably inserted.
func (m *Manager) EnsureBudget(ctx context.Context, chatID int64) error {
	total, err := m.recent.RecentTotalTokens(ctx, chatID)
	if err != nil {
		return fmt.Errorf("ensure budget: %w", err)
	}
	if total <= m.cfg.RecentBudget {
		return nil
	}

	targetFree := int(float64(m.cfg.RecentBudget) * m.cfg.CompressPortion)
	entries, err := m.recent.FetchRecent(ctx, chatID)
	if err != nil {
		return fmt.Errorf("ensure budget: %w", err)
	}

	block := make([]tokens.Message, 0, len(entries))
	accTokens := 0
	var uptoPos int64
	for _, e := range entries {
		block = append(block, tokens.Message{Role: e.Role, Content: e.Content})
		accTokens += e.Tokens
		uptoPos = e.Pos
		if accTokens >= targetFree {
			break
		}
	}
	if len(block) == 0 {
		return nil
	}

	sum, err := m.summarizer.SummarizeBlock(ctx, block)
	if err != nil {
		return fmt.Errorf("ensure budget: %w", err)
	}

	if err := m.recent.CompressRecent(ctx, chatID, uptoPos, LongSummary{
		ChatID:     chatID,
		Summary:    sum.Summary,
		Importance: sum.Importance,
		Tokens:     sum.Tokens,
	}); err != nil {
		return fmt.Errorf("ensure budget: %w", err)
	}
	return nil
}

// SelectContext assembles the bounded message list for one request:
// optional system prompt, then relevant long summaries under LongBudget,
// then recent turns trimmed to RecentBudget.
func (m *Manager) SelectContext(ctx context.Context, chatID int64, userQuery, systemPrompt string) ([]tokens.Message, error) {
	msgs := make([]tokens.Message, 0, 16)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, tokens.Message{Role: "system", Content: strings.TrimSpace(systemPrompt)})
	}

	longMsgs, longIDs, err := m.selectLongRelevant(ctx, chatID, userQuery)
	if err != nil {
		return nil, fmt.Errorf("select context: %w", err)
	}
	msgs = append(msgs, longMsgs...)

	entries, err := m.recent.FetchRecent(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("select context: %w", err)
	}
	recent := make([]tokens.Message, 0, len(entries))
	for _, e := range entries {
		recent = append(recent, tokens.Message{Role: e.Role, Content: e.Content})
	}
	if m.counter.CountMessages(recent, m.cfg.Model) > m.cfg.RecentBudget {
		recent = m.counter.TrimToBudget(recent, m.cfg.RecentBudget, m.cfg.Model)
	}
	msgs = append(msgs, recent...)

	// Usage bookkeeping is best-effort: a lost bump never corrupts summaries.
	if err := m.long.BumpLongUsage(ctx, longIDs); err != nil {
		return nil, fmt.Errorf("select context: %w", err)
	}

	return msgs, nil
}

// selectLongRelevant scores the chat's long summaries against the query and
// greedily packs the best ones under LongBudget. Oversized rows are skipped,
// not terminal: a later, smaller row may still fit.
func (m *Manager) selectLongRelevant(ctx context.Context, chatID int64, userQuery string) ([]tokens.Message, []int64, error) {
	longs, err := m.long.FetchLongAll(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if len(longs) == 0 {
		return nil, nil, nil
	}

	type scored struct {
		row   LongSummary
		score float64
	}
	rows := make([]scored, 0, len(longs))
	for _, row := range longs {
		rel := keywordScore(row.Summary, userQuery)
		rows = append(rows, scored{row: row, score: rel*0.7 + row.Importance*0.3})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].score > rows[j].score })

	selected := make([]tokens.Message, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	budgetLeft := m.cfg.LongBudget
	for _, r := range rows {
		cost := r.row.Tokens
		if cost == 0 {
			cost = m.counter.CountText(r.row.Summary, m.cfg.Model)
		}
		if cost > budgetLeft {
			continue
		}
		selected = append(selected, tokens.Message{Role: "system", Content: LongMemoMarker + r.row.Summary})
		ids = append(ids, r.row.ID)
		budgetLeft -= cost
		if budgetLeft <= 0 {
			break
		}
	}
	return selected, ids, nil
}

// keywordScore counts query keyword hits (length > 2, case-insensitive, with
// repetition) normalized by summary length. Kept in the shape the bot has
// always used; candidate for replacement by embedding retrieval.
func keywordScore(text, query string) float64 {
	if text == "" || query == "" {
		return 0
	}
	words := keywordRegex.FindAllString(strings.ToLower(query), -1)
	keywords := words[:0]
	for _, w := range words {
		if len(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return 0
	}

	lower := strings.ToLower(text)
	score := 0.0
	for _, w := range keywords {
		score += float64(strings.Count(lower, w))
	}
	// Normalize by character count, not bytes, so non-ASCII summaries score
	// the same as ASCII ones of equal length.
	return score / (float64(utf8.RuneCountInString(text))/1000 + 1)
}
