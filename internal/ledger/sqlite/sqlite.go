// Package sqlite stores ledger entries in a SQLite database through
// database/sql and the pure-Go modernc.org/sqlite driver. The table is
// created on open if it does not exist.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"delimconv/internal/ledger"
)

func init() {
	ledger.Register("sqlite", func(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
		return Open(ctx, cfg.DSN, cfg.TableName())
	})
}

// Ledger is a SQLite-backed ledger.Ledger.
type Ledger struct {
	db     *sql.DB
	table  string
	insert string
}

var _ ledger.Ledger = (*Ledger)(nil)

// Open connects to dsn (a file path or "file:" URI) and ensures table exists.
func Open(ctx context.Context, dsn, table string) (*Ledger, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if err := ledger.ValidateTable(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT    NOT NULL,
	source        TEXT    NOT NULL,
	target        TEXT    NOT NULL,
	row_count     INTEGER NOT NULL,
	elapsed_ms    INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	error_text    TEXT    NOT NULL DEFAULT '',
	checksum      TEXT    NOT NULL DEFAULT '',
	bytes_written INTEGER NOT NULL,
	finished_at   TEXT    NOT NULL
)`, table)
	if _, err := db.ExecContext(ctx, create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create %s: %w", table, err)
	}

	return &Ledger{
		db:    db,
		table: table,
		insert: fmt.Sprintf(`INSERT INTO %s
	(run_id, source, target, row_count, elapsed_ms, success, error_text, checksum, bytes_written, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
	}, nil
}

// Record implements ledger.Ledger.
func (l *Ledger) Record(ctx context.Context, e ledger.Entry) error {
	success := 0
	if e.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, l.insert,
		e.RunID, e.Source, e.Target, e.Rows, e.Elapsed.Milliseconds(), success,
		e.Error, e.Checksum, e.BytesWritten, e.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: insert into %s: %w", l.table, err)
	}
	return nil
}

// Entries returns the entries recorded for runID in insertion order.
func (l *Ledger) Entries(ctx context.Context, runID string) ([]ledger.Entry, error) {
	q := fmt.Sprintf(`SELECT run_id, source, target, row_count, elapsed_ms, success, error_text, checksum, bytes_written, finished_at
	FROM %s WHERE run_id = ? ORDER BY id`, l.table)
	rows, err := l.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", l.table, err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			elapsedMS int64
			success   int
			finished  string
		)
		if err := rows.Scan(&e.RunID, &e.Source, &e.Target, &e.Rows, &elapsedMS, &success,
			&e.Error, &e.Checksum, &e.BytesWritten, &finished); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		e.Success = success == 1
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("sqlite: finished_at %q: %w", finished, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() { _ = l.db.Close() }
