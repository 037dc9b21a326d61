package migrate

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/dbutil"

	"github.com/lrhodin/chatdb-migrate/pkg/typedstream"
)

func newOrchestrator(t *testing.T, rows []sourceRow) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Source: newSourceFixture(t, rows),
		Target: newTargetFixture(t),
		Log:    zerolog.Nop(),
	}
}

func (o *Orchestrator) targetContents(t *testing.T) map[string]string {
	t.Helper()
	contents := make(map[string]string)
	rows, err := o.Target.db.Query(context.Background(), `SELECT message_id, contents FROM message`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id, text string
		require.NoError(t, rows.Scan(&id, &text))
		contents[id] = text
	}
	return contents
}

func TestRunMixedSource(t *testing.T) {
	// Mirrors the canonical mix: text-column rows, blob-decodable rows,
	// and undecodable rows. Output carries exactly the recoverable ones.
	rows := []sourceRow{
		{rowID: 1, text: "plain one", isFromMe: true},
		{rowID: 2, text: "plain two", handleID: 7, handle: "+15551234567"},
		{rowID: 3, body: streamtypedBlob("from the archive")},
		{rowID: 4, body: []byte("not an archive at all")},
		{rowID: 5}, // neither text nor blob
	}
	o := newOrchestrator(t, rows)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalMessages)
	assert.Equal(t, 2, report.FromTextColumn)
	assert.Equal(t, 1, report.FromPrimary)
	assert.Equal(t, 0, report.FromFallback)
	assert.Equal(t, 2, report.Undecodable)
	assert.Equal(t, 3, report.WrittenRows)

	contents := o.targetContents(t)
	assert.Equal(t, map[string]string{
		"imessage-1": "plain one",
		"imessage-2": "plain two",
		"imessage-3": "from the archive",
	}, contents)
}

func TestRunTextColumnPrecedence(t *testing.T) {
	// A populated text column wins even over a deliberately malformed
	// blob: the decoder must never be consulted.
	garbage := []byte("\x04\x0bstreamtyped\xFF\xFF\xFF")
	o := newOrchestrator(t, []sourceRow{
		{rowID: 1, text: "foo", body: garbage},
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FromTextColumn)
	assert.Equal(t, 0, report.Undecodable)
	assert.Equal(t, map[string]string{"imessage-1": "foo"}, o.targetContents(t))
}

func TestRunWhitespaceTextColumnVerbatim(t *testing.T) {
	// A whitespace-only text column is still non-empty: it is used
	// verbatim and the blob stays untouched, keeping FromTextColumn in
	// step with the WithText source count.
	o := newOrchestrator(t, []sourceRow{
		{rowID: 1, text: "   ", body: streamtypedBlob("never decoded")},
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.WithText)
	assert.Equal(t, 1, report.FromTextColumn)
	assert.Equal(t, 0, report.FromPrimary)
	assert.Equal(t, map[string]string{"imessage-1": "   "}, o.targetContents(t))
}

func TestRunDropsPlaceholderOnlyMessages(t *testing.T) {
	// An attachment-only message decodes to just U+FFFC; after stripping
	// it is whitespace-only and must be dropped, not written empty.
	o := newOrchestrator(t, []sourceRow{
		{rowID: 1, body: streamtypedBlob("￼")},
		{rowID: 2, body: streamtypedBlob("  ￼  ")},
		{rowID: 3, body: streamtypedBlob("  kept ￼")},
	})

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Undecodable)
	assert.Equal(t, map[string]string{"imessage-3": "kept"}, o.targetContents(t))
}

func TestRunIdempotent(t *testing.T) {
	rows := []sourceRow{
		{rowID: 1, text: "one"},
		{rowID: 2, body: streamtypedBlob("two")},
	}
	o := newOrchestrator(t, rows)

	first, err := o.Run(context.Background())
	require.NoError(t, err)
	firstContents := o.targetContents(t)

	second, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.WrittenRows, second.WrittenRows)
	assert.Equal(t, firstContents, o.targetContents(t))
}

func TestRunSmallBatches(t *testing.T) {
	var rows []sourceRow
	for i := int64(1); i <= 7; i++ {
		rows = append(rows, sourceRow{rowID: i, text: "msg"})
	}
	o := newOrchestrator(t, rows)
	o.BatchSize = 3 // forces three flushes: 3 + 3 + 1

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, report.WrittenRows)
	count, err := o.Target.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestRunLimit(t *testing.T) {
	o := newOrchestrator(t, []sourceRow{
		{rowID: 1, text: "a"}, {rowID: 2, text: "b"}, {rowID: 3, text: "c"},
	})
	o.Limit = 2

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.WrittenRows)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	// A bare target without schema: dry run must not even create the table.
	raw, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	require.NoError(t, err)
	target := NewTargetWithDB(db)
	t.Cleanup(func() { target.Close() })

	o := &Orchestrator{
		Source: newSourceFixture(t, []sourceRow{
			{rowID: 1, text: "a"},
			{rowID: 2, body: streamtypedBlob("b")},
		}),
		Target: target,
		Log:    zerolog.Nop(),
	}
	o.DryRun = true

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.WrittenRows)

	// The target was never touched: the table does not even exist.
	var count int
	err = o.Target.db.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='message'`,
	).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunCoverageMonotonic(t *testing.T) {
	o := newOrchestrator(t, []sourceRow{
		{rowID: 1, body: streamtypedBlob("ok")},
		{rowID: 2, body: []byte("garbage")},
		{rowID: 3, text: "text"},
	})
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, report.Decoded(), report.WithAttributedBody)
}

func TestRunCancelledContext(t *testing.T) {
	o := newOrchestrator(t, []sourceRow{{rowID: 1, text: "a"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx)
	assert.Error(t, err)
}

func TestConvertRowTimestamps(t *testing.T) {
	o := newOrchestrator(t, nil)

	date := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC).Sub(appleEpoch).Nanoseconds()
	msg, outcome := o.convertRow(RawMessage{RowID: 9, Text: "hi", Date: date})
	require.NotNil(t, msg)
	assert.Equal(t, typedstream.SourceTextColumn, outcome.Source)
	assert.Equal(t, "2024-06-01T12:30:00Z", msg.CreatedAt)

	// Invalid date substitutes wall clock instead of failing the row.
	msg, _ = o.convertRow(RawMessage{RowID: 10, Text: "hi", Date: -1})
	require.NotNil(t, msg)
	parsed, err := time.Parse(time.RFC3339, msg.CreatedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestUserIDFor(t *testing.T) {
	assert.Equal(t, "tel:+15551234567", userIDFor(RawMessage{Handle: "+15551234567"}))
	assert.Equal(t, "mailto:user@example.com", userIDFor(RawMessage{Handle: "user@example.com"}))
	assert.Equal(t, "tel:242733", userIDFor(RawMessage{Handle: "242733"}))
	assert.Equal(t, "me", userIDFor(RawMessage{IsFromMe: true}))

	// Placeholder IDs are deterministic across runs.
	a := userIDFor(RawMessage{HandleID: 42})
	b := userIDFor(RawMessage{HandleID: 42})
	c := userIDFor(RawMessage{HandleID: 43})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "unknown:")
}
