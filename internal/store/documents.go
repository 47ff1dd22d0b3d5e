package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Document is a stored metadata document. Documents are content-addressed:
// saving a body whose hash is already stored returns the existing row.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	Body      []byte    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const documentColumns = "id, name, hash, active, created_at"

// SaveDocument stores body under name unless a document with the same hash
// exists. The boolean reports whether a new row was created.
func (s *Store) SaveDocument(ctx context.Context, name, hash string, body []byte) (*Document, bool, error) {
	existing, err := s.documentByHash(ctx, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	id := uuid.NewString()
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("INSERT INTO _documents (id, name, hash, body) VALUES (%s, %s, %s, %s)",
		pb.Add(id), pb.Add(name), pb.Add(hash), pb.Add(string(body)))
	if _, err := Exec(ctx, s.DB, sqlStr, pb.Params()...); err != nil {
		err = MapError(s.Dialect, err)
		if errors.Is(err, ErrUniqueViolation) {
			// Lost a race with an identical upload.
			if existing, lookupErr := s.documentByHash(ctx, hash); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert document: %w", err)
	}

	s.logger.Info("document stored", zap.String("id", id), zap.String("name", name), zap.Int("bytes", len(body)))

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// GetDocument returns the document with the given id, including its body.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s, body FROM _documents WHERE id = %s", documentColumns, pb.Add(id))
	return s.queryDocument(ctx, sqlStr, pb.Params()...)
}

// ActiveDocument returns the active document, including its body.
func (s *Store) ActiveDocument(ctx context.Context) (*Document, error) {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s, body FROM _documents WHERE active = %s", documentColumns, pb.Add(true))
	return s.queryDocument(ctx, sqlStr, pb.Params()...)
}

// LatestDocument returns the most recently stored document, including its body.
func (s *Store) LatestDocument(ctx context.Context) (*Document, error) {
	return s.queryDocument(ctx,
		fmt.Sprintf("SELECT %s, body FROM _documents ORDER BY created_at DESC LIMIT 1", documentColumns))
}

func (s *Store) documentByHash(ctx context.Context, hash string) (*Document, error) {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM _documents WHERE hash = %s", documentColumns, pb.Add(hash))
	return s.queryDocument(ctx, sqlStr, pb.Params()...)
}

func (s *Store) queryDocument(ctx context.Context, sqlStr string, args ...any) (*Document, error) {
	row, err := QueryRow(ctx, s.DB, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	if s.Dialect.NeedsBoolFix() {
		NormalizeBooleans([]map[string]any{row}, []string{"active"})
	}
	return documentFromRow(row), nil
}

// ListDocuments returns every stored document without bodies, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := QueryRows(ctx, s.DB,
		fmt.Sprintf("SELECT %s FROM _documents ORDER BY created_at DESC, name", documentColumns))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if s.Dialect.NeedsBoolFix() {
		NormalizeBooleans(rows, []string{"active"})
	}
	docs := make([]*Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, documentFromRow(row))
	}
	return docs, nil
}

// ActivateDocument marks id as the active document and deactivates the rest.
func (s *Store) ActivateDocument(ctx context.Context, id string) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, tx,
		fmt.Sprintf("UPDATE _documents SET active = %s WHERE id = %s", pb.Add(true), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("activate document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	pb = s.Dialect.NewParamBuilder()
	if _, err := Exec(ctx, tx,
		fmt.Sprintf("UPDATE _documents SET active = %s WHERE id <> %s", pb.Add(false), pb.Add(id)),
		pb.Params()...); err != nil {
		return fmt.Errorf("deactivate documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("document activated", zap.String("id", id))
	return nil
}

// DeleteDocument removes the document with the given id.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB, fmt.Sprintf("DELETE FROM _documents WHERE id = %s", pb.Add(id)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func documentFromRow(row map[string]any) *Document {
	doc := &Document{
		ID:   asString(row["id"]),
		Name: asString(row["name"]),
		Hash: asString(row["hash"]),
	}
	if body, ok := row["body"]; ok && body != nil {
		doc.Body = []byte(asString(body))
	}
	switch v := row["active"].(type) {
	case bool:
		doc.Active = v
	case int64:
		doc.Active = v != 0
	}
	switch v := row["created_at"].(type) {
	case time.Time:
		doc.CreatedAt = v
	case string:
		doc.CreatedAt, _ = parseTime(v)
	}
	return doc
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
