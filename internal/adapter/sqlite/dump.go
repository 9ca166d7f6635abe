package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"

	"recommerce"
)

var dumpQueries = map[recommerce.Table]string{
	recommerce.TableContainer: `
SELECT container_id, config, started_at, started_by, group_id, group_size,
	stopped_at, force_stop, exited_at, exit_status,
	health, paused, resumed, tensorboard, logs, data
FROM container ORDER BY started_at, container_id`,
	recommerce.TableSystem: `
SELECT sampled_at, cpu, ram, io FROM system_information ORDER BY id`,
}

// Dump renders the whole table as ';'-separated CSV with a header row.
func (s *Store) Dump(ctx context.Context, table recommerce.Table) (string, error) {
	query, ok := dumpQueries[table]
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("dump %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("dump %s columns: %w", table, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.Write(cols); err != nil {
		return "", fmt.Errorf("write %s header: %w", table, err)
	}

	values := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan %s row: %w", table, err)
		}
		for i, v := range values {
			record[i] = v.String
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write %s row: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate %s rows: %w", table, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush %s csv: %w", table, err)
	}
	return buf.String(), nil
}
