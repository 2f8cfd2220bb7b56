package stores

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// where accumulates AND-ed predicates and their bind args.
type where struct {
	clauses []string
	args    []any
}

func newWhere(workspaceID string) *where {
	return &where{clauses: []string{"workspace_id = ?"}, args: []any{workspaceID}}
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) addIf(ok bool, clause string, args ...any) {
	if ok {
		w.add(clause, args...)
	}
}

func (w *where) String() string {
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n)
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

// jsonText returns raw as text, substituting def for empty input.
func jsonText(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}
	return string(raw)
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func fromNullJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
