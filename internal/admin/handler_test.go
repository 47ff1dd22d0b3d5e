package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"permission-explorer/internal/config"
	"permission-explorer/internal/engine"
	"permission-explorer/internal/metadata"
	"permission-explorer/internal/store"
)

const ordersYAML = `
sources:
  - name: default
    tables:
      - table: {schema: public, name: orders}
        select_permissions:
          - role: user
            permission:
              columns: [id, total]
              filter: {user_id: {_eq: X-Hasura-User-Id}}
`

const usersJSON = `{"metadata": {"sources": [{"name": "default", "tables": [
  {"table": {"schema": "public", "name": "users"},
   "select_permissions": [{"role": "admin", "permission": {"columns": ["id", "email"]}}]}
]}]}}`

func setup(t *testing.T) (*fiber.App, *store.Store, *metadata.Registry) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "admin"}, zap.NewNop())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	reg := metadata.NewRegistry()
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(zap.NewNop())})
	RegisterAdminRoutes(app, NewHandler(s, reg, syncRecorder{s}, zap.NewNop()))
	return app, s, reg
}

// syncRecorder writes events straight through so tests can read them back.
type syncRecorder struct{ s *store.Store }

func (r syncRecorder) Record(e store.Event) {
	_ = r.s.InsertEvents(context.Background(), []store.Event{e})
}

func send(t *testing.T, app *fiber.App, method, path, contentType, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	return resp
}

type uploadResp struct {
	Data struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Hash   string `json:"hash"`
		Active bool   `json:"active"`
		Tables int    `json:"tables"`
		Roles  int    `json:"roles"`
	} `json:"data"`
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	b, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func TestUploadActivatesDocument(t *testing.T) {
	app, _, reg := setup(t)

	resp := send(t, app, "POST", "/api/_admin/documents?name=orders.yaml", "application/yaml", ordersYAML)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var up uploadResp
	decode(t, resp, &up)
	if up.Data.ID == "" || !up.Data.Active || up.Data.Tables != 1 || up.Data.Roles != 1 {
		t.Fatalf("unexpected upload response %+v", up.Data)
	}

	doc, ix := reg.Current()
	if doc == nil || doc.ID != up.Data.ID {
		t.Fatalf("expected registry to hold the upload, got %+v", doc)
	}
	if got := ix.TableNames(); !reflect.DeepEqual(got, []string{"orders"}) {
		t.Fatalf("expected [orders], got %v", got)
	}

	// Same content again is deduplicated.
	resp = send(t, app, "POST", "/api/_admin/documents?name=again.yaml&format=yaml", "", ordersYAML)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 for duplicate, got %d", resp.StatusCode)
	}
	var dup uploadResp
	decode(t, resp, &dup)
	if dup.Data.ID != up.Data.ID {
		t.Fatalf("expected existing id %s, got %s", up.Data.ID, dup.Data.ID)
	}
}

func TestUploadRejectsBadDocuments(t *testing.T) {
	app, s, reg := setup(t)

	resp := send(t, app, "POST", "/api/_admin/documents", "application/json", `{"tables": []}`)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var errResp engine.ErrorResponse
	decode(t, resp, &errResp)
	if errResp.Error.Code != "INVALID_METADATA" || errResp.Error.Message != "Invalid metadata format: no sources found" {
		t.Fatalf("unexpected error %+v", errResp.Error)
	}

	resp = send(t, app, "POST", "/api/_admin/documents", "application/json", `{"sources": ["oops"]}`)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422 for parse failure, got %d", resp.StatusCode)
	}

	resp = send(t, app, "POST", "/api/_admin/documents", "application/json", `{"sources": [`)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 for malformed json, got %d", resp.StatusCode)
	}

	docs, err := s.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected nothing stored, got %d documents", len(docs))
	}
	if reg.Document() != nil {
		t.Fatal("expected registry untouched")
	}
}

func TestActivateAndDelete(t *testing.T) {
	app, _, reg := setup(t)

	var orders, users uploadResp
	decode(t, send(t, app, "POST", "/api/_admin/documents?name=orders.yaml", "application/yaml", ordersYAML), &orders)
	decode(t, send(t, app, "POST", "/api/_admin/documents?name=users.json&activate=false", "application/json", usersJSON), &users)

	if users.Data.Active {
		t.Fatal("expected users document to stay inactive")
	}
	if reg.Document().ID != orders.Data.ID {
		t.Fatal("expected orders to remain active")
	}

	var list struct {
		Data []store.Document `json:"data"`
	}
	decode(t, send(t, app, "GET", "/api/_admin/documents", "", ""), &list)
	if len(list.Data) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(list.Data))
	}

	var got struct {
		Data     store.Document `json:"data"`
		Document map[string]any `json:"document"`
	}
	decode(t, send(t, app, "GET", "/api/_admin/documents/"+users.Data.ID, "", ""), &got)
	if got.Data.Name != "users.json" || got.Document["metadata"] == nil {
		t.Fatalf("unexpected document %+v", got)
	}

	// The active document cannot be deleted.
	if resp := send(t, app, "DELETE", "/api/_admin/documents/"+orders.Data.ID, "", ""); resp.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	if resp := send(t, app, "POST", "/api/_admin/documents/"+users.Data.ID+"/activate", "", ""); resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := reg.Index().TableNames(); !reflect.DeepEqual(got, []string{"users"}) {
		t.Fatalf("expected [users] after activation, got %v", got)
	}

	if resp := send(t, app, "DELETE", "/api/_admin/documents/"+orders.Data.ID, "", ""); resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp := send(t, app, "GET", "/api/_admin/documents/"+orders.Data.ID, "", ""); resp.StatusCode != 404 {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	if resp := send(t, app, "POST", "/api/_admin/documents/missing/activate", "", ""); resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActivatedDocumentSurvivesReload(t *testing.T) {
	app, s, _ := setup(t)

	var up uploadResp
	decode(t, send(t, app, "POST", "/api/_admin/documents?name=orders.yaml", "application/yaml", ordersYAML), &up)

	fresh := metadata.NewRegistry()
	doc, err := metadata.LoadLatest(context.Background(), s, fresh, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if doc == nil || doc.ID != up.Data.ID {
		t.Fatalf("expected uploaded document, got %+v", doc)
	}
	if !bytes.Equal([]byte(doc.Hash), []byte(up.Data.Hash)) {
		t.Fatalf("expected stable content hash, got %s and %s", doc.Hash, up.Data.Hash)
	}
}

func TestActivityLog(t *testing.T) {
	app, _, _ := setup(t)

	var orders, users uploadResp
	decode(t, send(t, app, "POST", "/api/_admin/documents?name=orders.yaml", "application/yaml", ordersYAML), &orders)
	decode(t, send(t, app, "POST", "/api/_admin/documents?name=users.json", "application/json", usersJSON), &users)
	if resp := send(t, app, "DELETE", "/api/_admin/documents/"+orders.Data.ID, "", ""); resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var all struct {
		Data []store.Event `json:"data"`
	}
	decode(t, send(t, app, "GET", "/api/_admin/events", "", ""), &all)
	if len(all.Data) != 3 {
		t.Fatalf("expected 3 events, got %+v", all.Data)
	}

	var deleted struct {
		Data []store.Event `json:"data"`
	}
	decode(t, send(t, app, "GET", "/api/_admin/events?action=document.deleted", "", ""), &deleted)
	if len(deleted.Data) != 1 || deleted.Data[0].DocumentID != orders.Data.ID {
		t.Fatalf("expected the delete event for %s, got %+v", orders.Data.ID, deleted.Data)
	}

	var forUsers struct {
		Data []store.Event `json:"data"`
	}
	decode(t, send(t, app, "GET", "/api/_admin/events?document_id="+users.Data.ID, "", ""), &forUsers)
	if len(forUsers.Data) != 1 || forUsers.Data[0].Action != "document.uploaded" {
		t.Fatalf("expected one upload event, got %+v", forUsers.Data)
	}
	if forUsers.Data[0].Detail["name"] != "users.json" {
		t.Fatalf("expected upload detail, got %v", forUsers.Data[0].Detail)
	}
}
