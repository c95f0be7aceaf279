package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalize trims surrounding whitespace and applies Unicode NFC normalization, matching
// spec §4.H's content-hash normalization rule ("trimmed, case-preserving, NFC").
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// joinHash normalizes and newline-joins fields, then returns the full 64-char hex SHA-256
// digest of the result.
func joinHash(fields ...string) string {
	normalized := make([]string, len(fields))
	for i, f := range fields {
		normalized[i] = normalize(f)
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))
	return hex.EncodeToString(sum[:])
}

// RawContentHash is the full-hex SHA-256 digest over the raw-event tuple from spec §4.H:
// (title, description, start_iso, end_iso_or_empty, venue_name, venue_address, city,
// region, country, organizer, category, price, url, image_url).
func RawContentHash(title, description, startISO, endISO, venueName, venueAddress, city, region, country, organizer, category, price, url, imageURL string) string {
	return joinHash(title, description, startISO, endISO, venueName, venueAddress, city, region, country, organizer, category, price, url, imageURL)
}

// SeriesContentHash is the 32-hex-char truncated SHA-256 over the occurrence-independent
// subset of series fields: (title, description, venue_name, venue_address, organizer,
// category).
func SeriesContentHash(title, description, venueName, venueAddress, organizer, category string) string {
	return joinHash(title, description, venueName, venueAddress, organizer, category)[:32]
}

// OccurrenceHash is short_hash(series_id || start_iso || end_iso): a 16-hex-char (64-bit)
// truncation of the same SHA-256 construction, collision-free under the
// (series_id, occurrence_hash) uniqueness constraint enforced by the store.
func OccurrenceHash(seriesID, startISO, endISO string) string {
	return joinHash(seriesID, startISO, endISO)[:16]
}
