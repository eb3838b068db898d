package ledgersync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const sqliteLedgerTableName = "ledger_rows"

// SQLiteLedger mirrors the Postgres backend on an embedded database, for
// single-operator setups that want durability without a server.
type SQLiteLedger struct {
	path      string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteLedger{
		path:      path,
		tableName: sqliteLedgerTableName,
		openDB:    sql.Open,
	}, nil
}

func (l *SQLiteLedger) ensureReady() error {
	if l == nil {
		return ErrInvalidInput
	}
	l.initOnce.Do(func() {
		db, err := l.openDB("sqlite", l.path)
		if err != nil {
			l.initErr = err
			return
		}
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				position INTEGER PRIMARY KEY,
				proposal_key TEXT NOT NULL,
				received_at TEXT,
				status TEXT NOT NULL DEFAULT ''
			)`, quoteIdentifier(l.tableName))
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}

func (l *SQLiteLedger) Rows(ctx context.Context) ([]Row, error) {
	if err := l.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT position, proposal_key, status FROM %s ORDER BY position",
		quoteIdentifier(l.tableName),
	)
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Row, 0, 64)
	for rows.Next() {
		var position int64
		var key, status string
		if err := rows.Scan(&position, &key, &status); err != nil {
			return nil, err
		}
		out = append(out, Row{Index: int(position), Key: key, Status: status})
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) LastKey(ctx context.Context) (string, bool, error) {
	if err := l.ensureReady(); err != nil {
		return "", false, err
	}
	query := fmt.Sprintf(
		"SELECT proposal_key FROM %s ORDER BY position DESC LIMIT 1",
		quoteIdentifier(l.tableName),
	)
	var key string
	err := l.db.QueryRowContext(ctx, query).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

func (l *SQLiteLedger) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	maxQuery := fmt.Sprintf("SELECT COALESCE(MAX(position), 0) FROM %s", quoteIdentifier(l.tableName))
	if err := tx.QueryRowContext(ctx, maxQuery).Scan(&next); err != nil {
		return err
	}
	insert := fmt.Sprintf(
		"INSERT INTO %s (position, proposal_key, received_at, status) VALUES (?, ?, ?, '')",
		quoteIdentifier(l.tableName),
	)
	for _, record := range records {
		next++
		receivedAt := ""
		if !record.ReceivedAt.IsZero() {
			receivedAt = record.ReceivedAt.UTC().Format(receivedStampLayout)
		}
		if _, err := tx.ExecContext(ctx, insert, next, KeyText(record.Key), receivedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (l *SQLiteLedger) SetStatus(ctx context.Context, rowIndex int, marker string) error {
	if rowIndex < 1 {
		return fmt.Errorf("%w: row index %d", ErrInvalidInput, rowIndex)
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	update := fmt.Sprintf(
		"UPDATE %s SET status = ? WHERE position = ?",
		quoteIdentifier(l.tableName),
	)
	result, err := l.db.ExecContext(ctx, update, marker, int64(rowIndex))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: row %d", ErrNotFound, rowIndex)
	}
	return nil
}

func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
