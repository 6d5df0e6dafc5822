package memory

import "context"

// RecentEntry is one raw dialogue turn in the recent tier. Entries are
// immutable once written and are only ever deleted as a prefix (positions up
// to a compression cutoff).
type RecentEntry struct {
	ChatID    int64
	Pos       int64
	Role      string
	Content   string
	Tokens    int
	CreatedAt string
}

// LongSummary is one compressed memory in the long tier.
type LongSummary struct {
	ID         int64
	ChatID     int64
	Summary    string
	Importance float64
	UsageCount int
	LastUsed   string
	Tokens     int
	CreatedAt  string
}

// RecentStore persists the recent tier for each chat.
type RecentStore interface {
	// InsertRecent appends a turn at the next position and returns it.
	// Position assignment is serialized per chat: strictly increasing, no gaps.
	InsertRecent(ctx context.Context, chatID int64, role, content string, tokens int) (int64, error)
	// FetchRecent returns all turns for the chat ordered oldest-first.
	FetchRecent(ctx context.Context, chatID int64) ([]RecentEntry, error)
	// RecentTotalTokens sums the stored token counts for the chat.
	RecentTotalTokens(ctx context.Context, chatID int64) (int, error)
	// CompressRecent inserts the summary and deletes every recent entry with
	// pos <= uptoPos in a single transaction, so readers never observe a turn
	// both raw and compressed.
	CompressRecent(ctx context.Context, chatID, uptoPos int64, sum LongSummary) error
}

// LongStore persists the long tier for each chat.
type LongStore interface {
	FetchLongAll(ctx context.Context, chatID int64) ([]LongSummary, error)
	// BumpLongUsage increments usage_count and touches last_used for the ids.
	BumpLongUsage(ctx context.Context, ids []int64) error
}
