package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSQLiteStore(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	args := json.RawMessage(`{"amount":30}`)

	if err := store.Log(ctx, Record{Resource: "stripe", Action: "charge", Args: args, Decision: DecisionAllow, Reason: "small charge"}); err != nil {
		t.Fatalf("failed to log allow: %v", err)
	}

	if err := store.Log(ctx, Record{Resource: "database", Action: "drop", Decision: DecisionDeny, Reason: "no drops"}); err != nil {
		t.Fatalf("failed to log deny: %v", err)
	}

	entries, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// newest first
	if entries[0].Decision != DecisionDeny {
		t.Errorf("expected most recent entry (deny) first, got %s", entries[0].Decision)
	}
	if string(entries[0].Args) != `{}` {
		t.Errorf("expected empty args object, got %s", entries[0].Args)
	}
	if string(entries[1].Args) != `{"amount":30}` {
		t.Errorf("unexpected args: %s", entries[1].Args)
	}
	if entries[1].Resource != "stripe" || entries[1].Action != "charge" {
		t.Errorf("unexpected resource/action: %s/%s", entries[1].Resource, entries[1].Action)
	}
	if entries[1].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestListByRequestID(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	records := []Record{
		{Resource: "stripe", Action: "refund", Decision: DecisionRequireApproval, Reason: "large refund", RequestID: "req-1"},
		{Resource: "stripe", Action: "refund", Decision: DecisionRequireApproval, Reason: "large refund", RequestID: "req-2"},
		{Resource: "stripe", Action: "refund", Decision: DecisionApproved, Reason: "approved by operator", RequestID: "req-1"},
	}
	for _, rec := range records {
		if err := store.Log(ctx, rec); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	entries, err := store.List(ctx, Query{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for req-1, got %d", len(entries))
	}
	if entries[0].Decision != DecisionApproved || entries[1].Decision != DecisionRequireApproval {
		t.Errorf("unexpected history order: %s, %s", entries[0].Decision, entries[1].Decision)
	}

	limited, err := store.List(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d entries", len(limited))
	}
}

func TestListEmpty(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	entries, err := store.List(context.Background(), Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", entries)
	}
}

func TestImmutability(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.Log(ctx, Record{Resource: "r", Action: "a", Decision: DecisionAllow, Reason: "original"}); err != nil {
		t.Fatalf("failed to log: %v", err)
	}

	_, err := store.db.ExecContext(ctx, "UPDATE audit_log SET reason = 'modified' WHERE id = 1")
	if err == nil {
		t.Fatal("expected UPDATE to fail, but it succeeded")
	}
	if !strings.Contains(err.Error(), "not allowed") && !strings.Contains(err.Error(), "FAIL") {
		t.Errorf("expected trigger error, got: %v", err)
	}

	_, err = store.db.ExecContext(ctx, "DELETE FROM audit_log WHERE id = 1")
	if err == nil {
		t.Fatal("expected DELETE to fail, but it succeeded")
	}
	if !strings.Contains(err.Error(), "not allowed") && !strings.Contains(err.Error(), "FAIL") {
		t.Errorf("expected trigger error, got: %v", err)
	}

	entries, _ := store.List(ctx, Query{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Reason != "original" {
		t.Errorf("expected reason 'original', got '%s'", entries[0].Reason)
	}
}

func TestConcurrentWrites(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	const numWrites = 20

	var wg sync.WaitGroup
	errs := make(chan error, numWrites)
	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			time.Sleep(time.Duration(id) * time.Millisecond)
			errs <- store.Log(ctx, Record{
				Resource: "concurrent",
				Action:   "write",
				Args:     json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)),
				Decision: DecisionAllow,
				Reason:   "concurrent test",
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("write failed: %v", err)
		}
	}

	entries, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != numWrites {
		t.Errorf("expected %d entries, got %d", numWrites, len(entries))
	}
}

func TestInMemoryDatabase(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Close()

	if err := store.Log(context.Background(), Record{Resource: "r", Action: "a", Decision: DecisionDeny, Reason: "x"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	entries, err := store.List(context.Background(), Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestValidation(t *testing.T) {
	valid := Record{Resource: "r", Action: "a", Args: json.RawMessage(`{}`), Decision: DecisionAllow, Reason: "test"}

	tests := []struct {
		name      string
		mutate    func(*Record)
		expectErr bool
	}{
		{"valid", func(r *Record) {}, false},
		{"no args", func(r *Record) { r.Args = nil }, false},
		{"empty resource", func(r *Record) { r.Resource = "" }, true},
		{"empty action", func(r *Record) { r.Action = "" }, true},
		{"invalid json", func(r *Record) { r.Args = json.RawMessage(`{bad`) }, true},
		{"invalid decision", func(r *Record) { r.Decision = "maybe" }, true},
		{"empty reason", func(r *Record) { r.Reason = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			tt.mutate(&rec)
			err := validateRecord(rec)
			if (err != nil) != tt.expectErr {
				t.Errorf("expected error: %v, got: %v", tt.expectErr, err)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	if _, err := parseTimestamp("2026-03-01T10:00:00.123456Z"); err != nil {
		t.Errorf("rfc3339: %v", err)
	}
	if _, err := parseTimestamp("2026-03-01 10:00:00"); err != nil {
		t.Errorf("sqlite layout: %v", err)
	}
	if _, err := parseTimestamp("yesterday"); err == nil {
		t.Error("expected error for garbage timestamp")
	}
}

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
