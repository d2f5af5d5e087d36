package sqlite

import (
	"context"
)

// maxReadOnlyRows bounds ad-hoc analytics query results.
const maxReadOnlyRows = 1000

// QueryReadOnly executes a vetted SELECT against the read pool and returns
// column names with row values. The caller is responsible for rejecting
// mutating statements before this point; the read pool and row cap bound
// the damage of anything that slips through.
func (s *Store) QueryReadOnly(ctx context.Context, query string) ([]string, [][]any, error) {
	rows, err := s.read.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() && len(out) < maxReadOnlyRows {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		// SQLite text comes back as []byte; convert for JSON friendliness.
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}
