package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eventscrape/core/internal/models"
)

// icsTimeLayout is RFC 5545's UTC "basic format" datetime: YYYYMMDDTHHMMSSZ.
const icsTimeLayout = "20060102T150405Z"

// EncodeICS writes a minimal RFC 5545 calendar: one VEVENT per event, CRLF line endings. No
// ICS library exists anywhere in the retrieval pack this repo was grounded on, so this encoder
// is hand-written against time.Time.Format and the escaping rules spec.md §4.J spells out
// directly — see DESIGN.md.
func EncodeICS(w io.Writer, events []*models.CanonicalEvent) error {
	if err := writeICSLine(w, "BEGIN:VCALENDAR"); err != nil {
		return err
	}
	for _, line := range []string{
		"VERSION:2.0",
		"PRODID:-//EventScrape//EventScrape//EN",
		"CALSCALE:GREGORIAN",
	} {
		if err := writeICSLine(w, line); err != nil {
			return err
		}
	}

	for _, e := range events {
		if err := encodeICSEvent(w, e); err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
	}

	return writeICSLine(w, "END:VCALENDAR")
}

func encodeICSEvent(w io.Writer, e *models.CanonicalEvent) error {
	if err := writeICSLine(w, "BEGIN:VEVENT"); err != nil {
		return err
	}

	start := e.StartDatetime.UTC()
	end := start.Add(time.Hour)
	if e.EndDatetime != nil {
		end = e.EndDatetime.UTC()
	}

	lines := []string{
		"UID:" + e.ID.String() + "@eventscrape.com",
		"DTSTART:" + start.Format(icsTimeLayout),
		"DTEND:" + end.Format(icsTimeLayout),
		icsField("SUMMARY", e.Title),
	}
	lines = append(lines, optionalICSField("DESCRIPTION", stripHTML(e.Description))...)
	lines = append(lines, optionalICSField("LOCATION", e.VenueName)...)
	lines = append(lines, optionalICSField("URL", e.URL)...)

	for _, line := range lines {
		if line == "" {
			continue
		}
		if err := writeICSLine(w, line); err != nil {
			return err
		}
	}

	return writeICSLine(w, "END:VEVENT")
}

// icsField always emits the property, even for an empty value (used for SUMMARY, which spec
// never documents as omittable).
func icsField(name, value string) string {
	return name + ":" + escapeICS(value)
}

// optionalICSField omits the property entirely when value is blank, per spec.md §4.J ("blank
// fields are omitted, not written empty").
func optionalICSField(name, value string) []string {
	if value == "" {
		return nil
	}
	return []string{icsField(name, value)}
}

func writeICSLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\r\n")
	return err
}

var icsEscaper = strings.NewReplacer(
	`\`, `\\`,
	`,`, `\,`,
	`;`, `\;`,
	"\n", `\n`,
)

func escapeICS(s string) string {
	return icsEscaper.Replace(s)
}

// stripHTML removes tags from a description field. Descriptions are ingested as plain text in
// this pipeline (no HTML-producing source exists among the out-of-scope scraper modules), so
// this is a defensive pass rather than a full sanitizer.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
