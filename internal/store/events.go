package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of the document activity log.
type Event struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	DocumentID string         `json:"document_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Action     string
	DocumentID string
	Limit      int
}

const (
	eventColumns     = "id, action, document_id, actor, detail, created_at"
	defaultEventPage = 50
	maxEventPage     = 500
	sqliteTimeLayout = "2006-01-02 15:04:05.000000"
)

// InsertEvents writes events in a single batch insert.
func (s *Store) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := s.Dialect.NewParamBuilder()
	placeholders := make([]string, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		var detail any
		if e.Detail != nil {
			b, err := json.Marshal(e.Detail)
			if err != nil {
				return fmt.Errorf("encode event detail: %w", err)
			}
			detail = string(b)
		}
		placeholders = append(placeholders, fmt.Sprintf("(%s, %s, %s, %s, %s, %s)",
			pb.Add(e.ID), pb.Add(e.Action), pb.Add(nullString(e.DocumentID)), pb.Add(nullString(e.Actor)),
			pb.Add(detail), pb.Add(s.timeValue(e.CreatedAt))))
	}

	sqlStr := fmt.Sprintf("INSERT INTO _events (%s) VALUES %s", eventColumns, strings.Join(placeholders, ", "))
	if _, err := Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	pb := s.Dialect.NewParamBuilder()
	var conditions []string
	if f.Action != "" {
		conditions = append(conditions, "action = "+pb.Add(f.Action))
	}
	if f.DocumentID != "" {
		conditions = append(conditions, "document_id = "+pb.Add(f.DocumentID))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}

	sqlStr := "SELECT " + eventColumns + " FROM _events"
	if len(conditions) > 0 {
		sqlStr += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlStr += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT %s", pb.Add(limit))

	rows, err := QueryRows(ctx, s.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, eventFromRow(row))
	}
	return events, nil
}

// DeleteEventsBefore removes events created before cutoff and reports how
// many were deleted.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB,
		fmt.Sprintf("DELETE FROM _events WHERE created_at < %s", pb.Add(s.timeValue(cutoff))),
		pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return n, nil
}

// timeValue renders t for the created_at column. SQLite stores text, so the
// layout is fixed-width to keep lexical and chronological order equal.
func (s *Store) timeValue(t time.Time) any {
	t = t.UTC()
	if s.Dialect.Name() == "sqlite" {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func eventFromRow(row map[string]any) Event {
	e := Event{
		ID:         asString(row["id"]),
		Action:     asString(row["action"]),
		DocumentID: asString(row["document_id"]),
		Actor:      asString(row["actor"]),
	}
	if raw := asString(row["detail"]); raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.Detail)
	}
	switch v := row["created_at"].(type) {
	case time.Time:
		e.CreatedAt = v
	case string:
		e.CreatedAt, _ = parseTime(v)
	}
	return e
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
