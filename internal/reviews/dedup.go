package reviews

import (
	"crypto/md5" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
	"strings"
)

// Deduplicator implements the two-level dedup from spec.md §4.9: by
// upstream review id first, then by content fingerprint for reviews that
// lack one.
type Deduplicator struct {
	seenIDs          map[string]struct{}
	seenFingerprints map[string]struct{}
}

// NewDeduplicator returns an empty accumulator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		seenIDs:          make(map[string]struct{}),
		seenFingerprints: make(map[string]struct{}),
	}
}

// Add reports whether candidate is new and, if so, records it against both
// sets. A candidate with an id already seen, or a fingerprint (when it has
// no id) already seen, is dropped.
func (d *Deduplicator) Add(candidate RawReview) bool {
	if candidate.YandexID != nil && *candidate.YandexID != "" {
		id := *candidate.YandexID
		if _, ok := d.seenIDs[id]; ok {
			return false
		}
		d.seenIDs[id] = struct{}{}
		if fp := Fingerprint(candidate.AuthorName, textOf(candidate.Text)); fp != "" {
			d.seenFingerprints[fp] = struct{}{}
		}
		return true
	}

	fp := Fingerprint(candidate.AuthorName, textOf(candidate.Text))
	if fp == "" {
		return true
	}
	if _, ok := d.seenFingerprints[fp]; ok {
		return false
	}
	d.seenFingerprints[fp] = struct{}{}
	return true
}

func textOf(t *string) string {
	if t == nil {
		return ""
	}
	return *t
}

// Fingerprint computes md5(lower(trim(author)) + "|" + lower(trim(text))),
// returning "" when both fields are empty (spec.md §4.9, glossary).
func Fingerprint(author, text string) string {
	a := strings.ToLower(strings.TrimSpace(author))
	t := strings.ToLower(strings.TrimSpace(text))
	if a == "" && t == "" {
		return ""
	}
	sum := md5.Sum([]byte(a + "|" + t)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
