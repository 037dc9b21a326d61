package migrate

import "fmt"

// CoverageReport summarizes one migration run: how much of the source had
// usable text before, and how much was recovered. Computed fresh per run,
// never persisted.
type CoverageReport struct {
	TotalMessages      int `json:"total_messages"`
	WithText           int `json:"with_text"`
	WithAttributedBody int `json:"with_attributed_body"`

	FromTextColumn int `json:"from_text_column"`
	FromPrimary    int `json:"from_attributed_body_primary"`
	FromFallback   int `json:"from_attributed_body_fallback"`
	Undecodable    int `json:"undecodable"`

	WrittenRows int `json:"written_rows"`
}

// Decoded is the number of rows recovered from attributedBody blobs.
func (r CoverageReport) Decoded() int {
	return r.FromPrimary + r.FromFallback
}

// Coverage is the fraction of source messages that ended up with usable
// text, as a percentage.
func (r CoverageReport) Coverage() float64 {
	if r.TotalMessages == 0 {
		return 0
	}
	return float64(r.WrittenRows) / float64(r.TotalMessages) * 100
}

func (r CoverageReport) String() string {
	return fmt.Sprintf(
		"%d/%d messages migrated (%.1f%%): %d from text column, %d decoded (%d primary, %d fallback), %d undecodable",
		r.WrittenRows, r.TotalMessages, r.Coverage(),
		r.FromTextColumn, r.Decoded(), r.FromPrimary, r.FromFallback, r.Undecodable,
	)
}
