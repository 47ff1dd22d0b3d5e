package metadata

import (
	"encoding/json"
	"testing"
)

// sampleDocument is a two-source export with orders and users tables.
const sampleDocument = `{
  "metadata": {
    "version": 3,
    "sources": [
      {
        "name": "default",
        "kind": "postgres",
        "tables": [
          {
            "table": {"schema": "public", "name": "orders"},
            "insert_permissions": [
              {"role": "user", "permission": {
                "columns": ["order_id", "total"],
                "check": {"user_id": {"_eq": "X-Hasura-User-Id"}},
                "set": {"user_id": "X-Hasura-User-Id", "status": "new"}
              }}
            ],
            "select_permissions": [
              {"role": "admin", "permission": {"columns": "*", "filter": {}}},
              {"role": "user", "permission": {
                "columns": ["order_id", "status", "total"],
                "filter": {"user_id": {"_eq": "X-Hasura-User-Id"}}
              }}
            ],
            "update_permissions": [
              {"role": "user", "permission": {
                "columns": ["status"],
                "filter": {"_and": [{"user_id": {"_eq": "X-Hasura-User-Id"}}, {"status": {"_eq": "new"}}]}
              }}
            ],
            "delete_permissions": [
              {"role": "admin", "permission": {"filter": {}}},
              {"role": "user", "permission": {"filter": {"user_id": {"_eq": "X-Hasura-User-Id"}}}}
            ]
          },
          {
            "table": {"schema": "public", "name": "audit_log"}
          }
        ]
      },
      {
        "name": "accounts",
        "tables": [
          {
            "table": "users",
            "select_permissions": [
              {"role": "admin", "permission": {"columns": ["email", "id", "name"]}},
              {"role": "user", "permission": {
                "columns": ["id", "name"],
                "filter": {"id": {"_eq": "X-Hasura-User-Id"}}
              }}
            ]
          }
        ]
      }
    ]
  }
}`

func decodeFixture(t *testing.T, src string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return doc
}

func parseFixture(t *testing.T, src string, opts ...Option) *Index {
	t.Helper()
	ix := Parse(decodeFixture(t, src), opts...)
	if err := ix.Err(); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return ix
}

// tableDoc wraps table entries in a single-source document.
func tableDoc(tables ...map[string]any) map[string]any {
	list := make([]any, len(tables))
	for i, tbl := range tables {
		list[i] = tbl
	}
	return map[string]any{
		"sources": []any{
			map[string]any{"name": "default", "tables": list},
		},
	}
}

func rule(role string, perm map[string]any) map[string]any {
	return map[string]any{"role": role, "permission": perm}
}

func rules(rs ...map[string]any) []any {
	out := make([]any, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}

func columns(names ...string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
