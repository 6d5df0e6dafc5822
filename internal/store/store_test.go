package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AgN1ke/aisus/internal/memory"
	"github.com/AgN1ke/aisus/internal/tokens"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "aisus.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func heuristicCounter() *tokens.Counter {
	return tokens.NewCounterWithLoader(func(model string) (tokens.Encoder, error) {
		return nil, errors.New("tokenizer unavailable")
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aisus.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := s1.InsertRecent(context.Background(), 1, "user", "hello", 2); err != nil {
		t.Fatalf("InsertRecent: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	entries, err := s2.FetchRecent(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "hello" {
		t.Errorf("entries after reopen = %+v, want the inserted row", entries)
	}
}

func TestInsertRecentPositions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		pos, err := s.InsertRecent(ctx, 1, "user", "msg", 1)
		if err != nil {
			t.Fatalf("InsertRecent: %v", err)
		}
		if pos != want {
			t.Errorf("pos = %d, want %d", pos, want)
		}
	}

	// Position sequences are per chat.
	pos, err := s.InsertRecent(ctx, 2, "user", "other chat", 1)
	if err != nil {
		t.Fatalf("InsertRecent: %v", err)
	}
	if pos != 1 {
		t.Errorf("pos in fresh chat = %d, want 1", pos)
	}
}

func TestFetchRecentOrderAndTotals(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, content := range []string{"first", "second", "third"} {
		if _, err := s.InsertRecent(ctx, 1, "user", content, i+1); err != nil {
			t.Fatalf("InsertRecent: %v", err)
		}
	}

	entries, err := s.FetchRecent(ctx, 1)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Content != "first" || entries[2].Content != "third" {
		t.Errorf("order = [%s..%s], want oldest first", entries[0].Content, entries[2].Content)
	}

	total, err := s.RecentTotalTokens(ctx, 1)
	if err != nil {
		t.Fatalf("RecentTotalTokens: %v", err)
	}
	if total != 6 {
		t.Errorf("total tokens = %d, want 6", total)
	}

	empty, err := s.RecentTotalTokens(ctx, 99)
	if err != nil {
		t.Fatalf("RecentTotalTokens empty chat: %v", err)
	}
	if empty != 0 {
		t.Errorf("empty chat total = %d, want 0", empty)
	}
}

func TestCompressRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.InsertRecent(ctx, 1, "user", "msg", 10); err != nil {
			t.Fatalf("InsertRecent: %v", err)
		}
	}

	err := s.CompressRecent(ctx, 1, 3, memory.LongSummary{
		Summary:    "the gist of the first three turns",
		Importance: 0.7,
		Tokens:     8,
	})
	if err != nil {
		t.Fatalf("CompressRecent: %v", err)
	}

	entries, err := s.FetchRecent(ctx, 1)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 survivors", len(entries))
	}
	if entries[0].Pos != 4 {
		t.Errorf("oldest surviving pos = %d, want 4", entries[0].Pos)
	}

	longs, err := s.FetchLongAll(ctx, 1)
	if err != nil {
		t.Fatalf("FetchLongAll: %v", err)
	}
	if len(longs) != 1 {
		t.Fatalf("long rows = %d, want 1", len(longs))
	}
	if longs[0].Summary != "the gist of the first three turns" || longs[0].Importance != 0.7 {
		t.Errorf("long row = %+v", longs[0])
	}
	if longs[0].UsageCount != 0 {
		t.Errorf("usage_count = %d, want 0 at insert", longs[0].UsageCount)
	}
}

func TestFetchLongAllOrdersByImportance(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, sum := range []memory.LongSummary{
		{Summary: "low", Importance: 0.2},
		{Summary: "high", Importance: 0.9},
		{Summary: "mid", Importance: 0.5},
	} {
		if err := s.CompressRecent(ctx, 1, 0, sum); err != nil {
			t.Fatalf("CompressRecent: %v", err)
		}
	}

	longs, err := s.FetchLongAll(ctx, 1)
	if err != nil {
		t.Fatalf("FetchLongAll: %v", err)
	}
	got := []string{longs[0].Summary, longs[1].Summary, longs[2].Summary}
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestBumpLongUsage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CompressRecent(ctx, 1, 0, memory.LongSummary{Summary: "a", Importance: 0.5}); err != nil {
		t.Fatalf("CompressRecent: %v", err)
	}
	if err := s.CompressRecent(ctx, 1, 0, memory.LongSummary{Summary: "b", Importance: 0.4}); err != nil {
		t.Fatalf("CompressRecent: %v", err)
	}
	longs, err := s.FetchLongAll(ctx, 1)
	if err != nil {
		t.Fatalf("FetchLongAll: %v", err)
	}

	if err := s.BumpLongUsage(ctx, []int64{longs[0].ID}); err != nil {
		t.Fatalf("BumpLongUsage: %v", err)
	}
	if err := s.BumpLongUsage(ctx, nil); err != nil {
		t.Fatalf("BumpLongUsage with no ids: %v", err)
	}

	longs, err = s.FetchLongAll(ctx, 1)
	if err != nil {
		t.Fatalf("FetchLongAll: %v", err)
	}
	var bumped, untouched int
	for _, l := range longs {
		switch l.Summary {
		case "a":
			bumped = l.UsageCount
		case "b":
			untouched = l.UsageCount
		}
	}
	if bumped != 1 {
		t.Errorf("bumped usage_count = %d, want 1", bumped)
	}
	if untouched != 0 {
		t.Errorf("untouched usage_count = %d, want 0", untouched)
	}
}

func TestForgetChat(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.InsertRecent(ctx, 1, "user", "keep me not", 1); err != nil {
		t.Fatalf("InsertRecent: %v", err)
	}
	if _, err := s.InsertRecent(ctx, 2, "user", "other chat", 1); err != nil {
		t.Fatalf("InsertRecent: %v", err)
	}
	if err := s.CompressRecent(ctx, 1, 0, memory.LongSummary{Summary: "s", Importance: 0.5}); err != nil {
		t.Fatalf("CompressRecent: %v", err)
	}

	if err := s.ForgetChat(ctx, 1); err != nil {
		t.Fatalf("ForgetChat: %v", err)
	}

	entries, _ := s.FetchRecent(ctx, 1)
	longs, _ := s.FetchLongAll(ctx, 1)
	if len(entries) != 0 || len(longs) != 0 {
		t.Errorf("chat 1 after forget: %d recent, %d long, want 0/0", len(entries), len(longs))
	}
	other, _ := s.FetchRecent(ctx, 2)
	if len(other) != 1 {
		t.Errorf("chat 2 entries = %d, want untouched 1", len(other))
	}
}

func TestListRecentChatIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, chatID := range []int64{1, 1, 2, 3} {
		if _, err := s.InsertRecent(ctx, chatID, "user", "m", 1); err != nil {
			t.Fatalf("InsertRecent: %v", err)
		}
	}

	ids, err := s.ListRecentChatIDs(ctx)
	if err != nil {
		t.Fatalf("ListRecentChatIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ids = %v, want 3 distinct chats", ids)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cs, err := s.GetSettings(ctx, 7)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if cs.AuthOK || cs.Mode != "bot" {
		t.Errorf("default settings = %+v, want unauthed bot mode", cs)
	}

	if err := s.UpsertSettings(ctx, 7, true, "agent"); err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}
	cs, err = s.GetSettings(ctx, 7)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if !cs.AuthOK || cs.Mode != "agent" {
		t.Errorf("settings = %+v, want authed agent mode", cs)
	}

	// Upsert overwrites in place.
	if err := s.UpsertSettings(ctx, 7, true, ""); err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}
	cs, _ = s.GetSettings(ctx, 7)
	if cs.Mode != "bot" {
		t.Errorf("mode = %q, want empty mode normalized to bot", cs.Mode)
	}
}

func TestSearchCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	got, err := s.GetSearchCache(ctx, "brave", "golang", time.Hour)
	if err != nil {
		t.Fatalf("GetSearchCache: %v", err)
	}
	if got != "" {
		t.Errorf("cold cache = %q, want miss", got)
	}

	if err := s.PutSearchCache(ctx, "brave", "golang", `[{"title":"go"}]`); err != nil {
		t.Fatalf("PutSearchCache: %v", err)
	}
	got, err = s.GetSearchCache(ctx, "brave", "golang", time.Hour)
	if err != nil {
		t.Fatalf("GetSearchCache: %v", err)
	}
	if got != `[{"title":"go"}]` {
		t.Errorf("warm cache = %q", got)
	}

	// Expired rows read as misses.
	if _, err := s.db.Exec(`UPDATE search_cache SET created_at = datetime('now', '-2 hours')`); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	got, err = s.GetSearchCache(ctx, "brave", "golang", time.Hour)
	if err != nil {
		t.Fatalf("GetSearchCache: %v", err)
	}
	if got != "" {
		t.Errorf("expired cache = %q, want miss", got)
	}
}

func TestPageCacheAndPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.PutPageCache(ctx, "https://example.com", "hello page"); err != nil {
		t.Fatalf("PutPageCache: %v", err)
	}
	got, err := s.GetPageCache(ctx, "https://example.com", time.Hour)
	if err != nil {
		t.Fatalf("GetPageCache: %v", err)
	}
	if got != "hello page" {
		t.Errorf("page cache = %q", got)
	}

	if _, err := s.db.Exec(`UPDATE page_cache SET created_at = datetime('now', '-48 hours')`); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := s.PruneCaches(ctx, 24*time.Hour); err != nil {
		t.Fatalf("PruneCaches: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM page_cache`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("page_cache rows after prune = %d, want 0", count)
	}
}

// End-to-end over real sqlite: append past the budget, compress, and see the
// compressed material come back marked in the assembled context.
func TestManagerOverSqlite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	counter := heuristicCounter()
	mgr := memory.NewManager(memory.Config{
		RecentBudget:    100,
		CompressPortion: 0.35,
	}, s, s, memory.NewSummarizer(nil, counter, ""), counter)

	for i := 0; i < 11; i++ {
		if err := mgr.AppendMessage(ctx, 1, "user", strings.Repeat("a", 40)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if err := mgr.EnsureBudget(ctx, 1); err != nil {
		t.Fatalf("EnsureBudget: %v", err)
	}

	total, err := s.RecentTotalTokens(ctx, 1)
	if err != nil {
		t.Fatalf("RecentTotalTokens: %v", err)
	}
	if total > 100 {
		t.Errorf("recent tokens after compression = %d, want <= 100", total)
	}
	longs, err := s.FetchLongAll(ctx, 1)
	if err != nil {
		t.Fatalf("FetchLongAll: %v", err)
	}
	if len(longs) != 1 {
		t.Fatalf("long rows = %d, want 1", len(longs))
	}

	msgs, err := mgr.SelectContext(ctx, 1, "aaaa", "")
	if err != nil {
		t.Fatalf("SelectContext: %v", err)
	}
	var sawMemo bool
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, memory.LongMemoMarker) {
			sawMemo = true
		}
	}
	if !sawMemo {
		t.Errorf("assembled context has no long-memo entry: %+v", msgs)
	}

	longs, err = s.FetchLongAll(ctx, 1)
	if err != nil {
		t.Fatalf("FetchLongAll: %v", err)
	}
	if longs[0].UsageCount != 1 {
		t.Errorf("usage_count after select = %d, want 1", longs[0].UsageCount)
	}
}
