package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	_ "go.mau.fi/util/dbutil/litestream"
)

// DecodedMessage is one normalized output row. Contents is never empty:
// rows that fail to decode are dropped before they get here, not written
// with placeholder content. Text-column rows pass through verbatim, so
// whitespace-only contents can occur there.
type DecodedMessage struct {
	MessageID string
	UserID    string
	Contents  string
	IsFromMe  bool
	CreatedAt string // RFC 3339
}

// TargetDB owns the normalized message table.
type TargetDB struct {
	db *dbutil.Database
}

// OpenTarget opens (creating if needed) the target SQLite database.
func OpenTarget(path string, log zerolog.Logger) (*TargetDB, error) {
	db, err := dbutil.NewFromConfig("chatdb-migrate", dbutil.Config{
		PoolConfig: dbutil.PoolConfig{
			Type:         "sqlite3-fk-wal",
			URI:          fmt.Sprintf("file:%s?_txlock=immediate", path),
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
	}, dbutil.ZeroLogger(log.With().Str("db_section", "target").Logger()))
	if err != nil {
		return nil, fmt.Errorf("can't open target database: %w", err)
	}
	return &TargetDB{db: db}, nil
}

// NewTargetWithDB wraps an existing database handle. Used by tests.
func NewTargetWithDB(db *dbutil.Database) *TargetDB {
	return &TargetDB{db: db}
}

func (t *TargetDB) Close() error {
	return t.db.Close()
}

// EnsureSchema creates the message table if it does not exist yet.
func (t *TargetDB) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS message (
			message_id TEXT NOT NULL PRIMARY KEY,
			user_id TEXT NOT NULL,
			contents TEXT NOT NULL,
			is_from_me BOOLEAN NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS message_created_at_idx
			ON message (created_at)`,
	}
	for _, query := range queries {
		if _, err := t.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure target schema: %w", err)
		}
	}
	return nil
}

// Clear removes all existing rows so a migration run is a full idempotent
// replace rather than an append.
func (t *TargetDB) Clear(ctx context.Context) error {
	if _, err := t.db.Exec(ctx, `DELETE FROM message`); err != nil {
		return fmt.Errorf("failed to clear target table: %w", err)
	}
	return nil
}

// InsertBatch writes one batch in a single transaction. Either the whole
// batch lands or none of it does, so a retry after failure can re-run the
// same batch safely.
func (t *TargetDB) InsertBatch(ctx context.Context, batch []DecodedMessage) error {
	if len(batch) == 0 {
		return nil
	}
	return t.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		for _, msg := range batch {
			_, err := t.db.Exec(ctx, `
				INSERT INTO message (message_id, user_id, contents, is_from_me, created_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (message_id) DO UPDATE SET
					user_id=excluded.user_id,
					contents=excluded.contents,
					is_from_me=excluded.is_from_me,
					created_at=excluded.created_at
			`, msg.MessageID, msg.UserID, msg.Contents, msg.IsFromMe, msg.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert message %s: %w", msg.MessageID, err)
			}
		}
		return nil
	})
}

// Count returns the number of rows currently in the target table.
func (t *TargetDB) Count(ctx context.Context) (int, error) {
	var count int
	err := t.db.QueryRow(ctx, `SELECT COUNT(*) FROM message`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count target rows: %w", err)
	}
	return count, nil
}
