package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ChatSettings is the per-chat host state (auth gating, platform mode).
type ChatSettings struct {
	ChatID    int64
	AuthOK    bool
	Mode      string
	UpdatedAt string
}

// GetSettings returns the settings row for the chat, or a zero-value row when
// none exists yet.
func (s *Store) GetSettings(ctx context.Context, chatID int64) (ChatSettings, error) {
	var cs ChatSettings
	var authOK int
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, auth_ok, mode, updated_at FROM chat_settings WHERE chat_id = ?
	`, chatID).Scan(&cs.ChatID, &authOK, &cs.Mode, &cs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatSettings{ChatID: chatID, Mode: "bot"}, nil
	}
	if err != nil {
		return ChatSettings{}, fmt.Errorf("get settings: %w", err)
	}
	cs.AuthOK = authOK == 1
	return cs, nil
}

func (s *Store) UpsertSettings(ctx context.Context, chatID int64, authOK bool, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == "" {
		mode = "bot"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_settings (chat_id, auth_ok, mode, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(chat_id) DO UPDATE SET
			auth_ok = excluded.auth_ok,
			mode = excluded.mode,
			updated_at = datetime('now')
	`, chatID, boolToInt(authOK), mode)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
