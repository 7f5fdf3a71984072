package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var timestamp string
	var args string

	if err := rows.Scan(&e.ID, &timestamp, &e.Resource, &e.Action, &args, &e.Decision, &e.Reason, &e.RequestID); err != nil {
		return Entry{}, fmt.Errorf("scan row: %w", err)
	}

	parsedTime, err := parseTimestamp(timestamp)
	if err != nil {
		return Entry{}, err
	}
	e.Timestamp = parsedTime

	e.Args = json.RawMessage(args)

	return e, nil
}

func parseTimestamp(timestamp string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err == nil {
		return t, nil
	}

	// Rows written by hand through the sqlite shell use datetime('now')
	t, err = time.Parse(timestampLayout, timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return t, nil
}
