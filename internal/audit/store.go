package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, now: time.Now}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Log(ctx context.Context, rec Record) error {
	if len(rec.Args) == 0 {
		rec.Args = json.RawMessage(`{}`)
	}
	if err := validateRecord(rec); err != nil {
		return err
	}

	return s.insertEntry(ctx, rec)
}

// List returns entries newest first.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Entry, error) {
	rows, err := s.queryEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertEntry(ctx context.Context, rec Record) error {
	const maxRetries = 3
	var err error

	timestamp := s.now().UTC().Format(time.RFC3339Nano)

	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, queryInsertEntry,
			timestamp, rec.Resource, rec.Action, string(rec.Args), string(rec.Decision), rec.Reason, rec.RequestID)
		if err == nil {
			return nil
		}

		if !isBusy(err) {
			return fmt.Errorf("insert entry: %w", err)
		}

		backoff := time.Duration(attempt+1) * 10 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("insert entry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("insert entry after %d retries: %w", maxRetries, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *SQLiteStore) queryEntries(ctx context.Context, q Query) (*sql.Rows, error) {
	query, args := buildListQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return rows, nil
}