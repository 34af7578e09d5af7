package store

import (
	"fmt"
	"sort"
	"strings"
)

// Fields is a partial session update. Keys are column names from a fixed
// whitelist; a nil value writes SQL NULL.
type Fields map[string]any

var updatableColumns = map[string]struct{}{
	"status":            {},
	"started_at":        {},
	"ended_at":          {},
	"resumption_handle": {},
	"audio_url":         {},
	"document":          {},
	"document_markdown": {},
}

// buildUpdate renders one UPDATE statement covering every field, so partial
// updates land atomically. Columns are emitted in sorted order to keep the
// statement deterministic.
func buildUpdate(token string, fields Fields) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, nil
	}

	columns := make([]string, 0, len(fields))
	for column := range fields {
		if _, ok := updatableColumns[column]; !ok {
			return "", nil, fmt.Errorf("unknown session field %q", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+1)
	args = append(args, token)
	for _, column := range columns {
		args = append(args, fields[column])
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf("UPDATE interview_sessions SET %s WHERE token = $1", strings.Join(sets, ", "))
	return query, args, nil
}
