package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSearchCache returns the cached results JSON for a provider/query pair if
// it is younger than ttl, or "" on a miss.
func (s *Store) GetSearchCache(ctx context.Context, provider, query string, ttl time.Duration) (string, error) {
	var resultsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT results_json FROM search_cache
		WHERE provider = ? AND query = ? AND created_at >= datetime('now', ?)
	`, provider, query, ttlModifier(ttl)).Scan(&resultsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get search cache: %w", err)
	}
	return resultsJSON, nil
}

func (s *Store) PutSearchCache(ctx context.Context, provider, query, resultsJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_cache (provider, query, results_json, created_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(provider, query) DO UPDATE SET
			results_json = excluded.results_json,
			created_at = datetime('now')
	`, provider, query, resultsJSON)
	if err != nil {
		return fmt.Errorf("put search cache: %w", err)
	}
	return nil
}

func (s *Store) GetPageCache(ctx context.Context, url string, ttl time.Duration) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM page_cache
		WHERE url = ? AND created_at >= datetime('now', ?)
	`, url, ttlModifier(ttl)).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get page cache: %w", err)
	}
	return content, nil
}

func (s *Store) PutPageCache(ctx context.Context, url, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_cache (url, content, created_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(url) DO UPDATE SET
			content = excluded.content,
			created_at = datetime('now')
	`, url, content)
	if err != nil {
		return fmt.Errorf("put page cache: %w", err)
	}
	return nil
}

// PruneCaches drops cache rows older than maxAge.
func (s *Store) PruneCaches(ctx context.Context, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ttlModifier(maxAge)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE created_at < datetime('now', ?)`, cutoff); err != nil {
		return fmt.Errorf("prune search cache: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM page_cache WHERE created_at < datetime('now', ?)`, cutoff); err != nil {
		return fmt.Errorf("prune page cache: %w", err)
	}
	return nil
}

// ttlModifier renders a negative sqlite datetime modifier like "-90 seconds".
func ttlModifier(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("-%d seconds", secs)
}
