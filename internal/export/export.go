// Package export produces trimmed metadata documents for offline viewing.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"permission-explorer/internal/metadata"
)

// FilterByTables returns a document in the bare {sources: [...]} shape that
// keeps only the named tables. Each kept table carries its identity and the
// four rule lists exactly as they appear in doc; every other key is dropped.
// Sources keep their place even when none of their tables survive.
func FilterByTables(doc any, tables []string) map[string]any {
	sources := sourceList(doc)
	filtered := make([]any, 0, len(sources))
	for _, item := range sources {
		src, _ := item.(map[string]any)
		entries, _ := src["tables"].([]any)

		kept := []any{}
		for _, e := range entries {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			name, _ := metadata.TableIdentity(entry["table"])
			if name == "" || !slices.Contains(tables, name) {
				continue
			}
			kept = append(kept, trimTable(entry))
		}

		filtered = append(filtered, map[string]any{
			"name":   src["name"],
			"tables": kept,
		})
	}
	return map[string]any{"sources": filtered}
}

func sourceList(doc any) []any {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	if meta, ok := root["metadata"].(map[string]any); ok {
		if sources, ok := meta["sources"].([]any); ok {
			return sources
		}
	}
	sources, _ := root["sources"].([]any)
	return sources
}

func trimTable(entry map[string]any) map[string]any {
	out := map[string]any{"table": entry["table"]}
	for _, op := range metadata.Operations {
		key := metadata.PermissionListKeys[op]
		if rules, ok := entry[key]; ok {
			out[key] = rules
		}
	}
	return out
}

// Config records the selection an export was made with.
type Config struct {
	SelectedRoles  []string `json:"selectedRoles"`
	SelectedTables []string `json:"selectedTables"`
}

// Bundle is the payload consumed by the standalone viewer.
type Bundle struct {
	Metadata map[string]any `json:"metadata"`
	Config   Config         `json:"config"`
}

// NewBundle trims doc to tables and records the selection.
func NewBundle(doc any, roles, tables []string) *Bundle {
	return &Bundle{
		Metadata: FilterByTables(doc, tables),
		Config: Config{
			SelectedRoles:  nonNil(roles),
			SelectedTables: nonNil(tables),
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// WriteTo writes the bundle as indented JSON.
func (b *Bundle) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return 0, fmt.Errorf("encode bundle: %w", err)
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
