// chatdb-migrate - Recovers message text from macOS chat.db archives.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package typedstream

import (
	"bytes"
	"sort"
)

// magic is the header of Apple's legacy NSArchiver format: a version
// marker followed by the literal "streamtyped". Blobs without it are not
// worth scanning at all.
var magic = []byte("\x04\x0bstreamtyped")

// MarkerKind identifies which Objective-C class name a candidate points at.
type MarkerKind int

const (
	MarkerString MarkerKind = iota
	MarkerMutableString
	MarkerDictionary
	MarkerAttributedString
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerString:
		return "NSString"
	case MarkerMutableString:
		return "NSMutableString"
	case MarkerDictionary:
		return "NSDictionary"
	case MarkerAttributedString:
		return "NSAttributedString"
	default:
		return "unknown"
	}
}

// classRank orders candidates for extraction: plain string classes carry
// the payload directly, NSDictionary wraps a string inside a richer graph
// (mentions, links), NSAttributedString is a structural wrapper with no
// payload of its own.
func (k MarkerKind) classRank() int {
	switch k {
	case MarkerString, MarkerMutableString:
		return 0
	case MarkerDictionary:
		return 1
	default:
		return 2
	}
}

// IsStringClass reports whether the marker names a class whose encoded
// payload is the text itself.
func (k MarkerKind) IsStringClass() bool {
	return k == MarkerString || k == MarkerMutableString
}

// Candidate is one class-name marker located in the archive.
type Candidate struct {
	Kind   MarkerKind
	Offset int // offset of the class name within the buffer
}

// markerNames holds the class names worth locating. Neither
// NSMutableString nor NSAttributedString contains "NSString" as a
// substring, so the four searches never shadow each other.
var markerNames = []struct {
	kind MarkerKind
	name []byte
}{
	{MarkerMutableString, []byte("NSMutableString")},
	{MarkerString, []byte("NSString")},
	{MarkerDictionary, []byte("NSDictionary")},
	{MarkerAttributedString, []byte("NSAttributedString")},
}

// MarkerName returns the class-name bytes for a kind.
func MarkerName(kind MarkerKind) []byte {
	for _, m := range markerNames {
		if m.kind == kind {
			return m.name
		}
	}
	return nil
}

// Classify verifies the streamtyped magic and locates the first occurrence
// of each known class-name marker. Candidates come back ordered by class
// rank (string > dictionary > attributed string), ties broken by lowest
// offset: archives emit the outermost string object first.
//
// A missing magic header means the blob is some other format entirely and
// returns ok=false with no candidates.
func Classify(cur *Cursor) (candidates []Candidate, ok bool) {
	head, found := cur.SliceFrom(0, len(magic))
	if !found || !bytes.Equal(head, magic) {
		return nil, false
	}

	for _, m := range markerNames {
		off, found := cur.FindSubsequence(m.name, len(magic))
		if !found {
			continue
		}
		candidates = append(candidates, Candidate{Kind: m.kind, Offset: off})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Kind.classRank(), candidates[j].Kind.classRank()
		if ri != rj {
			return ri < rj
		}
		return candidates[i].Offset < candidates[j].Offset
	})
	return candidates, true
}
