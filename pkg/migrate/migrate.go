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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lrhodin/chatdb-migrate/pkg/typedstream"
)

const (
	batchInsertRetries = 3
	batchRetryDelay    = 250 * time.Millisecond
)

// handleNamespace seeds deterministic placeholder user IDs for rows whose
// handle can't be resolved, so repeated runs produce identical output.
var handleNamespace = uuid.MustParse("9a5c3a2e-4b5f-47a1-8f43-2f0a6f2d9c11")

// Orchestrator drives the full migration: stream chat.db rows, decode,
// batch, write, report.
type Orchestrator struct {
	Source *SourceDB
	Target *TargetDB
	Log    zerolog.Logger

	// BatchSize rows per insert transaction. Zero means 500.
	BatchSize int
	// Limit caps how many source rows are read. Zero means all.
	Limit int
	// DryRun decodes and reports without touching the target.
	DryRun bool
}

// Run executes one migration pass and always returns a CoverageReport when
// it started successfully, even if many rows were undecodable. Row-level
// decode failures are silent (tallied, dropped); only schema and
// collaborator I/O failures abort.
//
// Cancellation is checked at batch boundaries only; a batch is never
// abandoned halfway.
func (o *Orchestrator) Run(ctx context.Context) (*CoverageReport, error) {
	start := time.Now()
	log := o.Log.With().Str("component", "migration").Logger()

	if err := o.Source.ValidateSchema(ctx); err != nil {
		return nil, fmt.Errorf("source schema validation failed: %w", err)
	}

	counts, err := o.Source.CountMessages(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("total", counts.Total).
		Int("with_text", counts.WithText).
		Int("with_attributed_body", counts.WithAttributedBody).
		Bool("dry_run", o.DryRun).
		Msg("Starting migration run")

	if !o.DryRun {
		if err := o.Target.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		// Full idempotent replace: each run rebuilds the target from
		// scratch instead of appending.
		if err := o.Target.Clear(ctx); err != nil {
			return nil, err
		}
	}

	report := &CoverageReport{
		TotalMessages:      counts.Total,
		WithText:           counts.WithText,
		WithAttributedBody: counts.WithAttributedBody,
	}
	var stats typedstream.Stats

	batchSize := o.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	batch := make([]DecodedMessage, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		// Cancellation is coarse-grained: between batches only.
		if err := ctx.Err(); err != nil {
			return err
		}
		if !o.DryRun {
			if err := o.insertWithRetry(ctx, log, batch); err != nil {
				return err
			}
		}
		report.WrittenRows += len(batch)
		log.Debug().Int("batch_rows", len(batch)).Int("written", report.WrittenRows).Msg("Batch committed")
		batch = batch[:0]
		return nil
	}

	err = o.Source.StreamMessages(ctx, o.Limit, func(raw RawMessage) error {
		msg, outcome := o.convertRow(raw)
		switch outcome.Source {
		case typedstream.SourceTextColumn:
			report.FromTextColumn++
		case typedstream.SourceAttributedBodyPrimary:
			report.FromPrimary++
		case typedstream.SourceAttributedBodyFallback:
			report.FromFallback++
		default:
			report.Undecodable++
		}
		if len(outcome.Attempts) > 0 {
			stats.Record(outcome)
		}
		if msg == nil {
			// Undecodable or whitespace-only: dropped, never written.
			return nil
		}
		batch = append(batch, *msg)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("migration aborted: %w", err)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("migration aborted: %w", err)
	}

	log.Info().
		Dur("elapsed", time.Since(start)).
		Int("written", report.WrittenRows).
		Int("undecodable", report.Undecodable).
		Interface("decode_attempts", stats.Attempts).
		Interface("decode_successes", stats.Successes).
		Msg("Migration run finished")
	return report, nil
}

// convertRow applies the decode precedence for one source row. A populated
// text column always wins and the archive blob is never inspected; only
// otherwise does the fallback chain run. Rows with nothing usable return a
// nil message.
func (o *Orchestrator) convertRow(raw RawMessage) (*DecodedMessage, typedstream.Outcome) {
	var outcome typedstream.Outcome
	var contents string
	if raw.Text != "" {
		// Strict precedence: a non-empty text column is used verbatim and
		// the archive blob is never decoded, however malformed it is. The
		// non-empty check matches the CountMessages predicate, so
		// FromTextColumn and WithText always agree.
		contents = raw.Text
		outcome = typedstream.Outcome{
			Text:       raw.Text,
			Source:     typedstream.SourceTextColumn,
			Confidence: 1.0,
		}
	} else if len(raw.AttributedBody) > 0 {
		outcome = typedstream.Decode(raw.AttributedBody)
		contents = sanitizeContents(outcome.Text)
	} else {
		outcome = typedstream.Outcome{Source: typedstream.SourceUndecodable}
	}

	if !outcome.Decoded() {
		return nil, outcome
	}
	if contents == "" {
		// Decoded to placeholder characters only (e.g. an attachment-only
		// message). Counts as undecodable, is never written.
		outcome.Source = typedstream.SourceUndecodable
		outcome.Text = ""
		return nil, outcome
	}

	return &DecodedMessage{
		MessageID: fmt.Sprintf("imessage-%d", raw.RowID),
		UserID:    userIDFor(raw),
		Contents:  contents,
		IsFromMe:  raw.IsFromMe,
		CreatedAt: AppleTimestamp(raw.Date, time.Now().UTC()).UTC().Format(time.RFC3339),
	}, outcome
}

// sanitizeContents strips the U+FFFC object replacement characters that
// NSAttributedString uses as inline attachment placeholders, then trims
// surrounding whitespace.
func sanitizeContents(text string) string {
	cleaned := strings.ReplaceAll(text, "￼", "")
	return strings.TrimSpace(cleaned)
}

// userIDFor picks the output user identifier: the prefixed handle when
// known, "me" for own messages, and a deterministic placeholder otherwise.
func userIDFor(raw RawMessage) string {
	if raw.Handle != "" {
		return addIdentifierPrefix(raw.Handle)
	}
	if raw.IsFromMe {
		return "me"
	}
	placeholder := uuid.NewSHA1(handleNamespace, []byte(fmt.Sprintf("handle:%d", raw.HandleID)))
	return "unknown:" + placeholder.String()
}

// insertWithRetry retries a failed batch write a few times before giving
// up. Batches are transactional, so a retry never duplicates rows.
func (o *Orchestrator) insertWithRetry(ctx context.Context, log zerolog.Logger, batch []DecodedMessage) error {
	var lastErr error
	for attempt := 1; attempt <= batchInsertRetries; attempt++ {
		lastErr = o.Target.InsertBatch(ctx, batch)
		if lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).
			Int("attempt", attempt).
			Int("batch_rows", len(batch)).
			Msg("Batch insert failed")
		if attempt < batchInsertRetries {
			select {
			case <-time.After(batchRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("batch insert failed after %d attempts: %w", batchInsertRetries, lastErr)
}
