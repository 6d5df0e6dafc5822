package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AgN1ke/aisus/internal/memory"
)

// InsertRecent appends one turn for the chat. The position is computed inside
// the write transaction so concurrent appends for one chat stay strictly
// increasing with no gaps.
func (s *Store) InsertRecent(ctx context.Context, chatID int64, role, content string, tokens int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert recent: %w", err)
	}
	defer tx.Rollback()

	var pos int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(pos), 0) + 1 FROM memory_recent WHERE chat_id = ?
	`, chatID).Scan(&pos); err != nil {
		return 0, fmt.Errorf("next recent pos: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_recent (chat_id, pos, role, content, tokens)
		VALUES (?, ?, ?, ?, ?)
	`, chatID, pos, role, content, tokens); err != nil {
		return 0, fmt.Errorf("insert recent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert recent: %w", err)
	}
	return pos, nil
}

func (s *Store) FetchRecent(ctx context.Context, chatID int64) ([]memory.RecentEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, pos, role, content, tokens, created_at
		FROM memory_recent
		WHERE chat_id = ?
		ORDER BY pos ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("fetch recent: %w", err)
	}
	defer rows.Close()
	return scanRecent(rows)
}

func (s *Store) RecentTotalTokens(ctx context.Context, chatID int64) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens), 0) FROM memory_recent WHERE chat_id = ?
	`, chatID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("recent total tokens: %w", err)
	}
	return total, nil
}

// CompressRecent records one compression pass: the new long summary goes in
// and the summarized prefix goes out, atomically.
func (s *Store) CompressRecent(ctx context.Context, chatID, uptoPos int64, sum memory.LongSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin compress: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_long (chat_id, summary, importance, usage_count, last_used, tokens)
		VALUES (?, ?, ?, 0, datetime('now'), ?)
	`, chatID, sum.Summary, sum.Importance, sum.Tokens); err != nil {
		return fmt.Errorf("insert long summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM memory_recent WHERE chat_id = ? AND pos <= ?
	`, chatID, uptoPos); err != nil {
		return fmt.Errorf("delete compressed recent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit compress: %w", err)
	}
	return nil
}

// RecentStats reports row and token counts for one chat, for status output.
func (s *Store) RecentStats(ctx context.Context, chatID int64) (rowCount, tokenCount int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COALESCE(SUM(tokens), 0) FROM memory_recent WHERE chat_id = ?
	`, chatID).Scan(&rowCount, &tokenCount)
	if err != nil {
		return 0, 0, fmt.Errorf("recent stats: %w", err)
	}
	return rowCount, tokenCount, nil
}

// ListRecentChatIDs returns every chat id with at least one recent entry.
func (s *Store) ListRecentChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT chat_id FROM memory_recent`)
	if err != nil {
		return nil, fmt.Errorf("list recent chat ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat ids: %w", err)
	}
	return ids, nil
}

// ForgetChat removes both memory tiers for a chat.
func (s *Store) ForgetChat(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin forget: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_recent WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("forget recent: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_long WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("forget long: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit forget: %w", err)
	}
	return nil
}

func scanRecent(rows *sql.Rows) ([]memory.RecentEntry, error) {
	result := make([]memory.RecentEntry, 0)
	for rows.Next() {
		var e memory.RecentEntry
		if err := rows.Scan(&e.ChatID, &e.Pos, &e.Role, &e.Content, &e.Tokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent: %w", err)
	}
	return result, nil
}
