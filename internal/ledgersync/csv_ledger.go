package ledgersync

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Column layout of the spreadsheet-style ledger. Columns B-D are reserved
// for the operator and never touched by the engine.
const (
	ledgerColumns  = 6
	keyColumn      = 0
	receivedColumn = 4
	statusColumn   = 5

	receivedStampLayout = "2006-01-02 15:04:05"
)

var csvLedgerHeader = []string{"proposal_key", "reserved_1", "reserved_2", "reserved_3", "received_at", "status"}

type CSVLedgerOptions struct {
	Path string
	// HasHeader marks row 1 as a header: it is skipped for matching and
	// appends, but row indexes stay physical so status writes address the
	// real file row.
	HasHeader bool
}

// CSVLedger persists rows in a six-column CSV file. Reads and writes happen
// under an advisory file lock, and writes go through a temp file plus rename
// so a crash never leaves a half-written ledger behind.
type CSVLedger struct {
	path      string
	hasHeader bool
	lock      *flock.Flock
}

func NewCSVLedger(opts CSVLedgerOptions) (*CSVLedger, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: ledger path is required", ErrInvalidInput)
	}
	return &CSVLedger{
		path:      path,
		hasHeader: opts.HasHeader,
		lock:      flock.New(path + ".lock"),
	}, nil
}

func (l *CSVLedger) Rows(ctx context.Context) ([]Row, error) {
	if err := l.lock.RLock(); err != nil {
		return nil, err
	}
	defer func() { _ = l.lock.Unlock() }()

	records, err := l.readAll()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for i, record := range records {
		if l.hasHeader && i == 0 {
			continue
		}
		rows = append(rows, Row{
			Index:  i + 1,
			Key:    cell(record, keyColumn),
			Status: cell(record, statusColumn),
		})
	}
	return rows, ctx.Err()
}

func (l *CSVLedger) LastKey(ctx context.Context) (string, bool, error) {
	rows, err := l.Rows(ctx)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[len(rows)-1].Key, true, nil
}

func (l *CSVLedger) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := l.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = l.lock.Unlock() }()

	existing, err := l.readAll()
	if err != nil {
		return err
	}
	if len(existing) == 0 && l.hasHeader {
		existing = append(existing, append([]string(nil), csvLedgerHeader...))
	}
	for _, record := range records {
		row := make([]string, ledgerColumns)
		row[keyColumn] = KeyText(record.Key)
		if !record.ReceivedAt.IsZero() {
			row[receivedColumn] = record.ReceivedAt.Format(receivedStampLayout)
		}
		existing = append(existing, row)
	}
	if err := l.writeAll(existing); err != nil {
		return err
	}
	return ctx.Err()
}

func (l *CSVLedger) SetStatus(ctx context.Context, rowIndex int, marker string) error {
	if rowIndex < 1 {
		return fmt.Errorf("%w: row index %d", ErrInvalidInput, rowIndex)
	}
	if err := l.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = l.lock.Unlock() }()

	records, err := l.readAll()
	if err != nil {
		return err
	}
	if rowIndex > len(records) {
		return fmt.Errorf("%w: row %d (ledger has %d rows)", ErrNotFound, rowIndex, len(records))
	}
	if l.hasHeader && rowIndex == 1 {
		return fmt.Errorf("%w: row 1 is the header", ErrInvalidInput)
	}
	record := records[rowIndex-1]
	for len(record) < ledgerColumns {
		record = append(record, "")
	}
	record[statusColumn] = marker
	records[rowIndex-1] = record
	if err := l.writeAll(records); err != nil {
		return err
	}
	return ctx.Err()
}

func (l *CSVLedger) Close() error {
	return nil
}

func (l *CSVLedger) readAll() ([][]string, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	return records, nil
}

func (l *CSVLedger) writeAll(records [][]string) error {
	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := l.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	for _, record := range records {
		for len(record) < ledgerColumns {
			record = append(record, "")
		}
		if err := writer.Write(record); err != nil {
			_ = file.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func cell(record []string, column int) string {
	if column >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[column])
}
