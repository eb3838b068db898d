package ledgersync

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrInvalidLayout  = errors.New("invalid ledger layout")
	ErrNotImplemented = errors.New("not implemented")
)

// Row is one persisted ledger row. Index is the 1-based physical position in
// the backing store. Key is the raw cell text: rows whose key cell is empty
// or non-numeric never match an extracted key, they just never reconcile.
type Row struct {
	Index  int
	Key    string
	Status string
}

// Record is what ingestion appends: a proposal key and the timestamp the
// notification was received.
type Record struct {
	Key        int64
	ReceivedAt time.Time
}

// KeyText is the canonical text form keys are compared in. Ledger key cells
// are matched as text so free-text or empty cells degrade to "no match"
// rather than errors.
func KeyText(key int64) string {
	return strconv.FormatInt(key, 10)
}

// Ledger is the persistent tabular store of reconciled records. Rows are
// durable: created by ingestion, mutated in place by completion marking,
// never deleted. Implementations must return Rows in ascending row order;
// the engine resolves duplicate keys first-match-wins.
type Ledger interface {
	// Rows returns every data row, ascending by Index.
	Rows(ctx context.Context) ([]Row, error)
	// LastKey returns the key of the last data row; false when the ledger
	// holds no data rows.
	LastKey(ctx context.Context) (string, bool, error)
	// Append adds one row per record, in slice order.
	Append(ctx context.Context, records []Record) error
	// SetStatus writes the status cell of the row at the given 1-based index.
	SetStatus(ctx context.Context, rowIndex int, marker string) error
	Close() error
}
