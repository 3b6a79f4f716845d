// Package postgres stores ledger entries in PostgreSQL using a pgx v5
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"delimconv/internal/ledger"
)

func init() {
	ledger.Register("postgres", func(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
		return Open(ctx, cfg)
	})
}

// Ledger is a Postgres-backed ledger.Ledger.
type Ledger struct {
	pool   *pgxpool.Pool
	table  string
	insert string
}

var _ ledger.Ledger = (*Ledger)(nil)

// Open connects to cfg.DSN and creates the table if needed.
func Open(ctx context.Context, cfg ledger.Config) (*Ledger, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	table := cfg.TableName()
	if err := ledger.ValidateTable(table); err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	fq := pgFQN(table)
	if _, err := pool.Exec(ctx, createSQL(fq)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create %s: %w", table, err)
	}
	return &Ledger{pool: pool, table: table, insert: insertSQL(fq)}, nil
}

func createSQL(fq string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            BIGSERIAL PRIMARY KEY,
	run_id        UUID        NOT NULL,
	source        TEXT        NOT NULL,
	target        TEXT        NOT NULL,
	row_count     BIGINT      NOT NULL,
	elapsed_ms    BIGINT      NOT NULL,
	success       BOOLEAN     NOT NULL,
	error_text    TEXT        NOT NULL DEFAULT '',
	checksum      TEXT        NOT NULL DEFAULT '',
	bytes_written BIGINT      NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
)`, fq)
}

func insertSQL(fq string) string {
	return fmt.Sprintf(`INSERT INTO %s
	(run_id, source, target, row_count, elapsed_ms, success, error_text, checksum, bytes_written, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, fq)
}

// Record implements ledger.Ledger.
func (l *Ledger) Record(ctx context.Context, e ledger.Entry) error {
	_, err := l.pool.Exec(ctx, l.insert,
		e.RunID, e.Source, e.Target, e.Rows, e.Elapsed.Milliseconds(), e.Success,
		e.Error, e.Checksum, e.BytesWritten, e.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert into %s: %w", l.table, err)
	}
	return nil
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() { l.pool.Close() }

func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name: public.runs -> "public"."runs".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}
