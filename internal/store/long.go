package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AgN1ke/aisus/internal/memory"
)

func (s *Store) FetchLongAll(ctx context.Context, chatID int64) ([]memory.LongSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, summary, importance, usage_count, last_used, tokens, created_at
		FROM memory_long
		WHERE chat_id = ?
		ORDER BY importance DESC, last_used DESC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("fetch long: %w", err)
	}
	defer rows.Close()
	return scanLong(rows)
}

func (s *Store) BumpLongUsage(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `UPDATE memory_long SET usage_count = usage_count + 1, last_used = datetime('now') WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("bump long usage: %w", err)
	}
	return nil
}

// LongStats reports row and token counts for one chat, for status output.
func (s *Store) LongStats(ctx context.Context, chatID int64) (rowCount, tokenCount int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COALESCE(SUM(tokens), 0) FROM memory_long WHERE chat_id = ?
	`, chatID).Scan(&rowCount, &tokenCount)
	if err != nil {
		return 0, 0, fmt.Errorf("long stats: %w", err)
	}
	return rowCount, tokenCount, nil
}

func scanLong(rows *sql.Rows) ([]memory.LongSummary, error) {
	result := make([]memory.LongSummary, 0)
	for rows.Next() {
		var l memory.LongSummary
		if err := rows.Scan(&l.ID, &l.ChatID, &l.Summary, &l.Importance, &l.UsageCount, &l.LastUsed, &l.Tokens, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan long: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate long: %w", err)
	}
	return result, nil
}
