package ledgersync

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type LedgerFactory func(dsn string) (Ledger, error)

var ledgerFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]LedgerFactory
}{
	factories: map[string]LedgerFactory{},
}

// RegisterLedgerFactory installs a factory for an external DSN scheme.
// Built-in schemes cannot be overridden; the registry is consulted first
// only for schemes the factory switch does not know.
func RegisterLedgerFactory(scheme string, factory LedgerFactory) {
	scheme = normalizeLedgerScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	ledgerFactoryRegistry.mu.Lock()
	defer ledgerFactoryRegistry.mu.Unlock()
	ledgerFactoryRegistry.factories[scheme] = factory
}

func lookupLedgerFactory(scheme string) (LedgerFactory, bool) {
	scheme = normalizeLedgerScheme(scheme)
	ledgerFactoryRegistry.mu.RLock()
	defer ledgerFactoryRegistry.mu.RUnlock()
	factory, ok := ledgerFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeLedgerScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

type LedgerDSNOptions struct {
	// HasHeader applies to file-backed ledgers only.
	HasHeader bool
}

// BuildLedgerFromDSN constructs a ledger backend from a DSN. Bare paths and
// file:// DSNs select the CSV backend; postgres:// and sqlite:// select the
// SQL backends; memory:// is for tests and dry runs.
func BuildLedgerFromDSN(dsn string, opts LedgerDSNOptions) (Ledger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: ledger dsn is required", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeLedgerScheme(parsed.Scheme)
	if factory, ok := lookupLedgerFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewCSVLedger(CSVLedgerOptions{Path: path, HasHeader: opts.HasHeader})
	case "memory", "mem", "inmem":
		return NewMemoryLedger(), nil
	case "postgres", "postgresql":
		return NewPostgresLedger(dsn)
	case "sqlite":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteLedger(path)
	default:
		return nil, fmt.Errorf("unsupported ledger scheme: %s", scheme)
	}
}

// LedgerFilePath reports the backing file of a file-schemed DSN, for callers
// that want to watch the ledger on disk.
func LedgerFilePath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", false
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", false
	}
	switch normalizeLedgerScheme(parsed.Scheme) {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return "", false
		}
		return path, true
	default:
		return "", false
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + parsed.Path
	}
	if path == "" {
		return "", fmt.Errorf("%w: missing path in dsn %q", ErrInvalidInput, raw)
	}
	return path, nil
}

// MemoryLedger keeps rows in process memory. It backs tests and dry runs;
// nothing survives the invocation.
type MemoryLedger struct {
	mu   sync.Mutex
	rows []Row
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// SeedRows replaces the ledger content, assigning physical indexes in order.
func (l *MemoryLedger) SeedRows(rows []Row) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = make([]Row, len(rows))
	for i, row := range rows {
		row.Index = i + 1
		l.rows[i] = row
	}
}

func (l *MemoryLedger) Rows(ctx context.Context) ([]Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Row, len(l.rows))
	copy(out, l.rows)
	return out, ctx.Err()
}

func (l *MemoryLedger) LastKey(ctx context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rows) == 0 {
		return "", false, nil
	}
	return l.rows[len(l.rows)-1].Key, true, ctx.Err()
}

func (l *MemoryLedger) Append(ctx context.Context, records []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range records {
		l.rows = append(l.rows, Row{
			Index: len(l.rows) + 1,
			Key:   KeyText(record.Key),
		})
	}
	return ctx.Err()
}

func (l *MemoryLedger) SetStatus(ctx context.Context, rowIndex int, marker string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rowIndex < 1 || rowIndex > len(l.rows) {
		return fmt.Errorf("%w: row %d", ErrNotFound, rowIndex)
	}
	l.rows[rowIndex-1].Status = marker
	return ctx.Err()
}

func (l *MemoryLedger) Close() error {
	return nil
}
