// Package record converts between positional table rows and keyed records.
package record

import (
	"fmt"
	"strings"
	"time"
)

// Record is a keyed view of one table row. Values are JSON-friendly:
// strings, bools, []string for array fields, and RFC 3339 strings for
// timestamps.
type Record map[string]any

// Schema names the columns that need coercion when crossing the row
// boundary. Everything else passes through as-is.
type Schema struct {
	ArrayFields map[string]bool
	BoolFields  map[string]bool
}

func fieldSet(names ...string) map[string]bool {
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// ItemSchema covers action item rows.
var ItemSchema = Schema{
	ArrayFields: fieldSet("tags", "mentionedUsers", "selectedOptions", "relatedIds"),
	BoolFields:  fieldSet("isRecurring", "isTemplate", "faxSent", "visitInfoAttached", "facesheetAttached"),
}

// CommentSchema covers comment rows.
var CommentSchema = Schema{
	ArrayFields: fieldSet("mentionedUsers"),
}

// OptionSchema covers option hierarchy rows.
var OptionSchema = Schema{
	BoolFields: fieldSet("requiresPatient", "requiresProviderApproval", "allowsRecurrence", "active"),
}

// Plain has no coerced fields.
var Plain = Schema{}

// Decode turns a positional row into a Record. Short rows leave trailing
// columns at their zero representation (empty string, false, nil slice).
func (s Schema) Decode(headers []string, row []any) Record {
	rec := make(Record, len(headers))
	for i, h := range headers {
		var cell any
		if i < len(row) {
			cell = row[i]
		}
		switch {
		case s.ArrayFields[h]:
			rec[h] = splitList(cell)
		case s.BoolFields[h]:
			rec[h] = toBool(cell)
		default:
			rec[h] = toValue(cell)
		}
	}
	return rec
}

// Encode turns a Record back into a positional row following headers.
// Missing keys encode as the empty string, except declared booleans,
// which always render TRUE or FALSE.
func (s Schema) Encode(headers []string, rec Record) []any {
	row := make([]any, len(headers))
	for i, h := range headers {
		v, ok := rec[h]
		switch {
		case s.BoolFields[h]:
			if toBool(v) {
				row[i] = "TRUE"
			} else {
				row[i] = "FALSE"
			}
		case !ok || v == nil:
			row[i] = ""
		case s.ArrayFields[h]:
			row[i] = joinList(v)
		default:
			row[i] = toCell(v)
		}
	}
	return row
}

func splitList(cell any) []string {
	if list, ok := cell.([]string); ok {
		return append([]string(nil), list...)
	}
	s := strings.TrimSpace(Text(cell))
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinList(v any) string {
	switch list := v.(type) {
	case []string:
		return strings.Join(list, ",")
	case []any:
		parts := make([]string, 0, len(list))
		for _, e := range list {
			parts = append(parts, Text(e))
		}
		return strings.Join(parts, ",")
	default:
		return Text(v)
	}
}

func toBool(cell any) bool {
	switch v := cell.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "TRUE")
	default:
		return false
	}
}

func toValue(cell any) any {
	switch v := cell.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		// TRUE/FALSE cells become booleans even in undeclared columns.
		switch {
		case strings.EqualFold(strings.TrimSpace(v), "TRUE"):
			return true
		case strings.EqualFold(strings.TrimSpace(v), "FALSE"):
			return false
		}
		return v
	default:
		return v
	}
}

func toCell(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

// Text renders a cell as a plain string, the way it would appear in the
// table. Floats that are whole numbers drop the fraction.
func Text(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// String returns the record's value for key as text.
func (r Record) String(key string) string {
	return Text(r[key])
}

// Bool returns the record's value for key as a bool.
func (r Record) Bool(key string) bool {
	return toBool(r[key])
}

// List returns the record's value for key as a string slice.
func (r Record) List(key string) []string {
	return splitList(r[key])
}
