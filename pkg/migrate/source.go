// chatdb-migrate - Recovers message text from macOS chat.db archives.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// appleEpoch: 2001-01-01 00:00:00 UTC. chat.db stores message.date as a
// nanosecond offset from this instant.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// RawMessage is one immutable source row. The migration never writes back
// to chat.db.
type RawMessage struct {
	RowID          int64
	Text           string
	AttributedBody []byte
	HandleID       int64 // 0 when NULL (own messages)
	Handle         string
	IsFromMe       bool
	Date           int64 // Apple-epoch nanoseconds
}

// SourceDB is a read-only view of a chat.db file.
type SourceDB struct {
	db *sql.DB
}

// OpenSource opens chat.db read-only and verifies the connection works.
func OpenSource(path string) (*SourceDB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("can't open chat.db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("can't read chat.db (Full Disk Access needed?): %w", err)
	}
	return &SourceDB{db: db}, nil
}

func (s *SourceDB) Close() error {
	return s.db.Close()
}

// requiredSchema lists the tables and columns the pipeline depends on.
var requiredSchema = map[string][]string{
	"message": {"text", "attributedBody", "handle_id", "is_from_me", "date"},
	"handle":  {"id"},
}

// ValidateSchema checks that the source exposes the minimal message/handle
// schema and reports everything that is missing in one error. This is the
// only fatal, non-retried failure class in the pipeline.
func (s *SourceDB) ValidateSchema(ctx context.Context) error {
	var missing []string
	for table, columns := range requiredSchema {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("schema validation query failed: %w", err)
		}
		if count == 0 {
			missing = append(missing, fmt.Sprintf("table %q", table))
			continue
		}
		for _, col := range columns {
			var exists int
			err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name=?`, table, col,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("schema validation query failed: %w", err)
			}
			if exists == 0 {
				missing = append(missing, fmt.Sprintf("column %s.%s", table, col))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("source database is missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Counts holds the pre-run source statistics for the coverage report.
type Counts struct {
	Total              int
	WithText           int
	WithAttributedBody int
}

// CountMessages gathers source-side totals in a single scan.
func (s *SourceDB) CountMessages(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN text IS NOT NULL AND text != '' THEN 1 END),
			COUNT(CASE WHEN attributedBody IS NOT NULL THEN 1 END)
		FROM message
	`).Scan(&c.Total, &c.WithText, &c.WithAttributedBody)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count source messages: %w", err)
	}
	return c, nil
}

// StreamMessages reads rows ordered by ROWID and hands each to fn. A
// non-zero limit caps how many rows are read. The callback owns the record;
// returning an error stops the stream.
func (s *SourceDB) StreamMessages(ctx context.Context, limit int, fn func(RawMessage) error) error {
	query := `
		SELECT
			message.ROWID,
			COALESCE(message.text, ''),
			message.attributedBody,
			COALESCE(message.handle_id, 0),
			COALESCE(handle.id, ''),
			COALESCE(message.is_from_me, 0),
			COALESCE(message.date, 0)
		FROM message
		LEFT JOIN handle ON message.handle_id = handle.ROWID
		ORDER BY message.ROWID ASC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query source messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg RawMessage
		var body []byte
		err := rows.Scan(&msg.RowID, &msg.Text, &body, &msg.HandleID, &msg.Handle, &msg.IsFromMe, &msg.Date)
		if err != nil {
			return fmt.Errorf("failed to scan source row: %w", err)
		}
		msg.AttributedBody = body
		if err := fn(msg); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("source row iteration failed: %w", err)
	}
	return nil
}

// AppleTimestamp converts an Apple-epoch nanosecond offset to wall time.
// Out-of-range values (zero, negative, or implausibly far in the future)
// fall back to the current time rather than failing the row.
func AppleTimestamp(date int64, now time.Time) time.Time {
	if date <= 0 {
		return now
	}
	ts := appleEpoch.Add(time.Duration(date) * time.Nanosecond)
	if ts.Before(appleEpoch) || ts.After(now.Add(24*time.Hour)) {
		return now
	}
	return ts
}
