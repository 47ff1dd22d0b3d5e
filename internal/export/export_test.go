package export

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"permission-explorer/internal/metadata"
)

const document = `{
  "metadata": {
    "version": 3,
    "sources": [
      {
        "name": "default",
        "kind": "postgres",
        "configuration": {"connection_info": {"database_url": "postgres://secret"}},
        "tables": [
          {
            "table": {"schema": "public", "name": "orders"},
            "object_relationships": [{"name": "user"}],
            "select_permissions": [{"role": "user", "permission": {"columns": ["id"], "filter": {"user_id": {"_eq": "X-Hasura-User-Id"}}}}],
            "delete_permissions": [{"role": "admin", "permission": {"filter": {}}}]
          },
          {
            "table": {"schema": "public", "name": "users"},
            "select_permissions": [{"role": "admin", "permission": {"columns": "*"}}]
          },
          "garbage"
        ]
      },
      {
        "name": "analytics",
        "tables": [
          {"table": "events", "insert_permissions": [{"role": "writer", "permission": {"columns": ["payload"]}}]}
        ]
      }
    ]
  }
}`

func decode(t *testing.T) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return doc
}

func TestFilterByTables(t *testing.T) {
	out := FilterByTables(decode(t), []string{"orders", "events"})

	sources := out["sources"].([]any)
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}

	first := sources[0].(map[string]any)
	if first["name"] != "default" {
		t.Fatalf("expected default source, got %v", first["name"])
	}
	if _, leaked := first["configuration"]; leaked {
		t.Fatal("expected source configuration to be dropped")
	}
	tables := first["tables"].([]any)
	if len(tables) != 1 {
		t.Fatalf("expected only orders, got %d tables", len(tables))
	}
	orders := tables[0].(map[string]any)
	if _, ok := orders["object_relationships"]; ok {
		t.Fatal("expected relationships to be dropped")
	}
	if _, ok := orders["insert_permissions"]; ok {
		t.Fatal("expected absent rule lists to stay absent")
	}
	if len(orders["select_permissions"].([]any)) != 1 || len(orders["delete_permissions"].([]any)) != 1 {
		t.Fatalf("expected rule lists verbatim, got %v", orders)
	}

	events := sources[1].(map[string]any)["tables"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected bare-name table to be kept, got %v", events)
	}
}

func TestFilterByTablesReindexes(t *testing.T) {
	ix := metadata.Parse(FilterByTables(decode(t), []string{"orders"}))
	if ix.Err() != nil {
		t.Fatalf("parse filtered document: %v", ix.Err())
	}
	if got := ix.TableNames(); !reflect.DeepEqual(got, []string{"orders"}) {
		t.Fatalf("expected [orders], got %v", got)
	}
	if got := ix.Roles(); !reflect.DeepEqual(got, []string{"admin", "user"}) {
		t.Fatalf("expected [admin user], got %v", got)
	}
}

func TestFilterByTablesUnknownShape(t *testing.T) {
	for _, doc := range []any{nil, "x", map[string]any{"sources": "x"}} {
		out := FilterByTables(doc, []string{"orders"})
		if sources := out["sources"].([]any); len(sources) != 0 {
			t.Fatalf("expected no sources, got %v", sources)
		}
	}
}

func TestBundleWriteTo(t *testing.T) {
	b := NewBundle(decode(t), []string{"user"}, nil)

	var buf bytes.Buffer
	n, err := b.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("expected %d bytes reported, got %d", buf.Len(), n)
	}

	var got struct {
		Metadata struct {
			Sources []struct {
				Name   string `json:"name"`
				Tables []any  `json:"tables"`
			} `json:"sources"`
		} `json:"metadata"`
		Config struct {
			SelectedRoles  []string `json:"selectedRoles"`
			SelectedTables []string `json:"selectedTables"`
		} `json:"config"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got.Config.SelectedRoles, []string{"user"}) {
		t.Fatalf("unexpected roles %v", got.Config.SelectedRoles)
	}
	if got.Config.SelectedTables == nil || len(got.Config.SelectedTables) != 0 {
		t.Fatalf("expected empty table selection, got %v", got.Config.SelectedTables)
	}
	for _, src := range got.Metadata.Sources {
		if len(src.Tables) != 0 {
			t.Fatalf("expected no tables in %s", src.Name)
		}
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"selectedTables": []`)) {
		t.Fatalf("expected empty selection to encode as [], got %s", buf.String())
	}
}
