// Package mssql stores ledger entries in Microsoft SQL Server through
// database/sql and the go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"delimconv/internal/ledger"
)

func init() {
	ledger.Register("mssql", func(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
		return Open(ctx, cfg)
	})
}

// Ledger is a SQL Server-backed ledger.Ledger.
type Ledger struct {
	db     *sql.DB
	table  string
	insert string
}

var _ ledger.Ledger = (*Ledger)(nil)

// Open connects to cfg.DSN and creates the table if needed.
func Open(ctx context.Context, cfg ledger.Config) (*Ledger, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	table := cfg.TableName()
	if err := ledger.ValidateTable(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createSQL(table)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: create %s: %w", table, err)
	}
	return &Ledger{db: db, table: table, insert: insertSQL(msFQN(table))}, nil
}

func createSQL(table string) string {
	fq := msFQN(table)
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
	id            BIGINT IDENTITY(1,1) PRIMARY KEY,
	run_id        UNIQUEIDENTIFIER NOT NULL,
	source        NVARCHAR(4000)   NOT NULL,
	target        NVARCHAR(4000)   NOT NULL,
	row_count     BIGINT           NOT NULL,
	elapsed_ms    BIGINT           NOT NULL,
	success       BIT              NOT NULL,
	error_text    NVARCHAR(MAX)    NOT NULL DEFAULT '',
	checksum      VARCHAR(32)      NOT NULL DEFAULT '',
	bytes_written BIGINT           NOT NULL,
	finished_at   DATETIMEOFFSET   NOT NULL
)`, strings.ReplaceAll(fq, "'", "''"), fq)
}

func insertSQL(fq string) string {
	return fmt.Sprintf(`INSERT INTO %s
	(run_id, source, target, row_count, elapsed_ms, success, error_text, checksum, bytes_written, finished_at)
	VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10)`, fq)
}

// Record implements ledger.Ledger.
func (l *Ledger) Record(ctx context.Context, e ledger.Entry) error {
	_, err := l.db.ExecContext(ctx, l.insert,
		e.RunID, e.Source, e.Target, e.Rows, e.Elapsed.Milliseconds(), e.Success,
		e.Error, e.Checksum, e.BytesWritten, e.FinishedAt)
	if err != nil {
		return fmt.Errorf("mssql: insert into %s: %w", l.table, err)
	}
	return nil
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() { _ = l.db.Close() }

func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name: dbo.runs -> [dbo].[runs].
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}
