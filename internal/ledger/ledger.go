// Package ledger persists one row per converted file so that runs can be
// audited after the fact (which file, how many rows, which checksum, did it
// fail).
//
// Backends register a Factory under a kind name from their init function;
// importing delimconv/internal/ledger/all enables every built-in backend.
// Callers only ever see the Ledger interface:
//
//	l, err := ledger.Open(ctx, ledger.Config{Kind: "sqlite", DSN: "runs.db"})
//	if err != nil { ... }
//	defer l.Close()
//	_ = l.Record(ctx, ledger.FromResult(runID, res, time.Now()))
package ledger

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"delimconv/internal/convert"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "delimconv_files"

// Entry is one persisted conversion outcome.
type Entry struct {
	RunID        string
	Source       string
	Target       string
	Rows         int64
	Elapsed      time.Duration
	Success      bool
	Error        string
	Checksum     string
	BytesWritten int64
	FinishedAt   time.Time
}

// FromResult builds the Entry recorded for r.
func FromResult(runID string, r convert.Result, finishedAt time.Time) Entry {
	e := Entry{
		RunID:        runID,
		Source:       r.Source,
		Target:       r.Target,
		Rows:         r.Rows,
		Elapsed:      r.Elapsed,
		Success:      r.Success,
		Checksum:     r.Checksum,
		BytesWritten: r.BytesWritten,
		FinishedAt:   finishedAt.UTC(),
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// Ledger records conversion outcomes. Implementations must be safe for use
// by one goroutine at a time; the batch runner never records concurrently.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
	// MaxConns caps the connection pool where the backend has one.
	MaxConns int
}

// TableName returns Table, or DefaultTable when empty.
func (c Config) TableName() string {
	if c.Table == "" {
		return DefaultTable
	}
	return c.Table
}

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTable rejects anything but a plain, optionally schema-qualified
// identifier.
func ValidateTable(name string) error {
	if !tableRe.MatchString(name) {
		return fmt.Errorf("ledger: invalid table name %q", name)
	}
	return nil
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Ledger, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics if kind is
// empty, f is nil or kind is registered twice.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if kind == "" || f == nil {
		panic("ledger: Register with empty kind or nil factory")
	}
	if _, dup := factories[kind]; dup {
		panic("ledger: Register called twice for " + kind)
	}
	factories[kind] = f
}

// Kinds lists the registered backend names.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open opens the backend named by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: unknown kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	if err := ValidateTable(cfg.TableName()); err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close()                              {}
