package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/eventscrape/core/internal/models"
)

// EncodeCSV writes one header row followed by one row per event, pulling each column's value
// by logical key from fieldMap (spec §4.J). Quoting: a value is wrapped in `"` iff it contains
// a comma, a double quote, or a newline; an embedded `"` is escaped as `""`. Line endings are
// LF, not CRLF.
func EncodeCSV(w io.Writer, events []*models.CanonicalEvent, fieldMap []FieldMapping) error {
	if len(fieldMap) == 0 {
		fieldMap = make([]FieldMapping, len(DefaultJSONFields))
		for i, key := range DefaultJSONFields {
			fieldMap[i] = FieldMapping{Key: key, Header: key}
		}
	}

	headers := make([]string, len(fieldMap))
	for i, fm := range fieldMap {
		headers[i] = fm.Header
	}
	if err := writeCSVRow(w, headers); err != nil {
		return err
	}

	for _, e := range events {
		row := make([]string, len(fieldMap))
		for i, fm := range fieldMap {
			v, err := fieldValue(e, fm.Key)
			if err != nil {
				return fmt.Errorf("event %s: %w", e.ID, err)
			}
			row[i] = v
		}
		if err := writeCSVRow(w, row); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVRow(w io.Writer, fields []string) error {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = csvQuote(f)
	}
	_, err := io.WriteString(w, strings.Join(quoted, ",")+"\n")
	return err
}

func csvQuote(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
