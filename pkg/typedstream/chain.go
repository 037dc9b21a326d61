// chatdb-migrate - Recovers message text from macOS chat.db archives.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package typedstream

import "unicode/utf8"

// Source says where a message's text ultimately came from.
type Source int

const (
	// SourceTextColumn: the plain text column was populated and used
	// verbatim; the archive blob was never inspected.
	SourceTextColumn Source = iota
	// SourceAttributedBodyPrimary: recovered from the top-ranked string
	// marker in the archive.
	SourceAttributedBodyPrimary
	// SourceAttributedBodyFallback: recovered by a lower-confidence
	// strategy (nested dictionary graph or raw printable scan).
	SourceAttributedBodyFallback
	// SourceUndecodable: nothing usable could be recovered. Expected and
	// non-exceptional for a real-world fraction of blobs.
	SourceUndecodable
)

func (s Source) String() string {
	switch s {
	case SourceTextColumn:
		return "text_column"
	case SourceAttributedBodyPrimary:
		return "attributed_body_primary"
	case SourceAttributedBodyFallback:
		return "attributed_body_fallback"
	default:
		return "undecodable"
	}
}

// Attempt is a diagnostic record of one strategy application. It feeds
// statistics only and never affects which text is surfaced.
type Attempt struct {
	Strategy    string
	Succeeded   bool
	MatchOffset int // -1 when the strategy found no anchor
	RawLength   int // payload byte length, 0 when nothing was read
}

// Outcome is the result of decoding one attributedBody blob.
// Text is non-empty iff Source != SourceUndecodable.
type Outcome struct {
	Text       string
	Source     Source
	Confidence float64
	Attempts   []Attempt
}

// Decoded reports whether any strategy recovered usable text.
func (o Outcome) Decoded() bool {
	return o.Source != SourceUndecodable
}

// Strategy names, also the keys of Stats maps.
const (
	StrategyPrimary    = "primary"
	StrategyNestedDict = "nested_dictionary"
	StrategyHeuristic  = "heuristic_scan"
)

// Confidence per strategy. Primary extraction follows the observed layout
// exactly; the dictionary walk depends on where the inner string landed;
// the printable scan is a guess of last resort.
const (
	confidencePrimary    = 1.0
	confidenceNestedDict = 0.8
	confidenceHeuristic  = 0.3
)

// Decode runs the fallback chain over one attributedBody blob and returns
// a typed outcome. It never panics, whatever the input: empty, truncated
// and random buffers all come back as SourceUndecodable.
//
// Strategies run in order and the chain stops at the first success, but
// every attempt (including failures) is recorded in the outcome so the
// caller can tally it into a Stats value.
func Decode(buf []byte) Outcome {
	cur := NewCursor(buf)
	out := Outcome{Source: SourceUndecodable}

	candidates, ok := Classify(cur)
	if !ok {
		// No magic header: the remaining strategies all key off archive
		// structure, so there is nothing further to try.
		out.Attempts = append(out.Attempts, Attempt{Strategy: StrategyPrimary, MatchOffset: -1})
		return out
	}

	if tryPrimary(cur, candidates, &out) {
		return out
	}
	if tryNestedDictionary(cur, candidates, &out) {
		return out
	}
	if tryHeuristicScan(cur, &out) {
		return out
	}
	return out
}

// tryPrimary extracts at the top-ranked string-class marker. String
// markers that sit behind an NSDictionary marker belong to the nested
// dictionary graph and are left for that strategy, so dictionary-wrapped
// text keeps its lower confidence.
func tryPrimary(cur *Cursor, candidates []Candidate, out *Outcome) bool {
	att := Attempt{Strategy: StrategyPrimary, MatchOffset: -1}
	dictOffset := -1
	for _, cand := range candidates {
		if cand.Kind == MarkerDictionary {
			dictOffset = cand.Offset
			break
		}
	}
	for _, cand := range candidates {
		if !cand.Kind.IsStringClass() {
			continue
		}
		if dictOffset >= 0 && cand.Offset > dictOffset {
			continue
		}
		att.MatchOffset = cand.Offset
		if ex, ok := ExtractAt(cur, cand.Offset, cand.Kind); ok {
			att.Succeeded = true
			att.RawLength = ex.RawLength
			out.Attempts = append(out.Attempts, att)
			out.Text = ex.Text
			out.Source = SourceAttributedBodyPrimary
			out.Confidence = confidencePrimary
			return true
		}
		break // only the top-ranked string marker is the primary target
	}
	out.Attempts = append(out.Attempts, att)
	return false
}

// tryNestedDictionary handles rich attributed text where the string hides
// inside an NSDictionary object graph (mentions, links): search the
// dictionary's byte region for a nested string marker and extract there.
func tryNestedDictionary(cur *Cursor, candidates []Candidate, out *Outcome) bool {
	att := Attempt{Strategy: StrategyNestedDict, MatchOffset: -1}
	var dict *Candidate
	for i, cand := range candidates {
		if cand.Kind == MarkerDictionary {
			dict = &candidates[i]
			break
		}
	}
	if dict == nil {
		out.Attempts = append(out.Attempts, att)
		return false
	}

	searchFrom := dict.Offset + len(MarkerName(MarkerDictionary))
	for _, kind := range []MarkerKind{MarkerMutableString, MarkerString} {
		off, found := cur.FindSubsequence(MarkerName(kind), searchFrom)
		if !found {
			continue
		}
		att.MatchOffset = off
		if ex, ok := ExtractAt(cur, off, kind); ok {
			att.Succeeded = true
			att.RawLength = ex.RawLength
			out.Attempts = append(out.Attempts, att)
			out.Text = ex.Text
			out.Source = SourceAttributedBodyFallback
			out.Confidence = confidenceNestedDict
			return true
		}
	}
	out.Attempts = append(out.Attempts, att)
	return false
}

// heuristicMinRunBytes is the shortest printable run worth surfacing.
// Anything shorter is indistinguishable from archive metadata.
const heuristicMinRunBytes = 4

// tryHeuristicScan is the last resort: take the longest contiguous run of
// printable UTF-8 in the buffer, skipping runs that are archive metadata
// rather than message content.
func tryHeuristicScan(cur *Cursor, out *Outcome) bool {
	att := Attempt{Strategy: StrategyHeuristic, MatchOffset: -1}

	bestStart := -1
	var bestRun []byte
	runStart, runLen := -1, 0
	flush := func() {
		defer func() { runStart, runLen = -1, 0 }()
		if runStart < 0 {
			return
		}
		run, ok := cur.SliceFrom(runStart, runLen)
		if !ok {
			return
		}
		offset := runStart
		// A printable length byte glues the '+' type tag and the length
		// prefix onto the payload; drop them so framing never leaks into
		// the surfaced text.
		if len(run) >= 2 && run[0] == stringTypeTag {
			run = run[2:]
			offset += 2
		}
		if len(run) < heuristicMinRunBytes || isArchiveMetadata(run) {
			return
		}
		if len(run) > len(bestRun) {
			bestRun, bestStart = run, offset
		}
	}

	for off := 0; off < cur.Len(); {
		chunk, _ := cur.SliceFrom(off, min(4, cur.Len()-off))
		r, size := utf8.DecodeRune(chunk)
		if r == utf8.RuneError && size <= 1 {
			flush()
			off++
			continue
		}
		if !isPrintableRune(r) {
			flush()
			off += size
			continue
		}
		if runStart < 0 {
			runStart = off
		}
		runLen += size
		off += size
	}
	flush()

	if bestStart < 0 {
		out.Attempts = append(out.Attempts, att)
		return false
	}
	att.Succeeded = true
	att.MatchOffset = bestStart
	att.RawLength = len(bestRun)
	out.Attempts = append(out.Attempts, att)
	out.Text = string(bestRun)
	out.Source = SourceAttributedBodyFallback
	out.Confidence = confidenceHeuristic
	return true
}

// isPrintableRune keeps text-like runes: anything at or above space,
// excluding the C1 control block, plus newline and tab.
func isPrintableRune(r rune) bool {
	if r == '\n' || r == '\t' {
		return true
	}
	if r < 0x20 || r == 0x7F {
		return false
	}
	if r >= 0x80 && r <= 0x9F {
		return false
	}
	return true
}

// metadataRuns are printable strings that belong to the archive framing,
// not the message. A run that merely starts with one of these (e.g.
// "streamtyped" followed by garbage) is still metadata.
var metadataRuns = []string{
	"streamtyped",
	"NSAttributedString",
	"NSMutableString",
	"NSMutableAttributedString",
	"NSString",
	"NSDictionary",
	"NSObject",
	"NSNumber",
	"NSValue",
	"__kIM",
}

func isArchiveMetadata(run []byte) bool {
	s := string(run)
	for _, meta := range metadataRuns {
		if len(s) >= len(meta) && s[:len(meta)] == meta {
			return true
		}
	}
	return false
}
