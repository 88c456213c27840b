package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC text layout used by dialects that store
// time as TEXT. Fixed width keeps lexicographic order chronological.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// timeCol scans TIMESTAMPTZ values and TEXT written with TimeLayout.
type timeCol struct {
	dst *time.Time
}

func (c timeCol) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.dst = v.UTC()
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	case nil:
		*c.dst = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (c timeCol) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid time %q: %w", s, err)
	}
	*c.dst = t.UTC()
	return nil
}

// nullTimeCol scans a nullable time into a *time.Time.
type nullTimeCol struct {
	dst **time.Time
}

func (c nullTimeCol) Scan(src any) error {
	if src == nil {
		*c.dst = nil
		return nil
	}
	var t time.Time
	if err := (timeCol{dst: &t}).Scan(src); err != nil {
		return err
	}
	*c.dst = &t
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// =============================================================================
// WHERE BUILDER
// =============================================================================

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
