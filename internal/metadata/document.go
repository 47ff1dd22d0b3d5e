package metadata

import (
	"fmt"

	"permission-explorer/internal/valuehash"
)

// documentShape locates the source list inside one accepted document layout.
type documentShape struct {
	name  string
	match func(doc map[string]any) ([]any, bool)
}

// documentShapes are tried in order; the first match wins.
var documentShapes = []documentShape{
	{
		name: "metadata.sources",
		match: func(doc map[string]any) ([]any, bool) {
			meta, ok := doc["metadata"].(map[string]any)
			if !ok {
				return nil, false
			}
			sources, ok := meta["sources"].([]any)
			return sources, ok
		},
	},
	{
		name: "sources",
		match: func(doc map[string]any) ([]any, bool) {
			sources, ok := doc["sources"].([]any)
			return sources, ok
		},
	},
}

// locateSources returns the source list of doc under the first matching shape.
func locateSources(doc any) ([]any, bool) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, shape := range documentShapes {
		if sources, ok := shape.match(root); ok {
			return sources, true
		}
	}
	return nil, false
}

// decodeSources flattens every source's tables into table records, keeping
// only tables with at least one rule. Containers of the wrong shape (a source,
// table or rule that is not an object, or a list key holding a non-list) fail
// the whole document; malformed values inside a rule degrade instead.
func decodeSources(sources []any) ([]TableRecord, error) {
	var records []TableRecord
	for i, item := range sources {
		src, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("source %d: expected object, got %T", i, item)
		}
		sourceName, _ := src["name"].(string)

		rawTables, present := src["tables"]
		if !present || rawTables == nil {
			continue
		}
		tables, ok := rawTables.([]any)
		if !ok {
			return nil, fmt.Errorf("source %q: tables: expected list, got %T", sourceName, rawTables)
		}

		for j, rawTable := range tables {
			entry, ok := rawTable.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("source %q table %d: expected object, got %T", sourceName, j, rawTable)
			}
			rec, err := decodeTable(entry)
			if err != nil {
				return nil, fmt.Errorf("source %q table %d: %w", sourceName, j, err)
			}
			rec.Source = sourceName
			if rec.RuleCount() == 0 {
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// TableIdentity returns the name and schema of a table entry's "table" value,
// which is either {schema, name} or a bare name.
func TableIdentity(v any) (name, schema string) {
	switch t := v.(type) {
	case string:
		return t, ""
	case map[string]any:
		name, _ = t["name"].(string)
		schema, _ = t["schema"].(string)
		return name, schema
	default:
		return "", ""
	}
}

func decodeTable(entry map[string]any) (TableRecord, error) {
	name, schema := TableIdentity(entry["table"])
	rec := TableRecord{
		Name:   name,
		Schema: schema,
		Rules:  make(map[Operation][]Rule, len(Operations)),
	}
	for _, op := range Operations {
		key := PermissionListKeys[op]
		raw, present := entry[key]
		if !present || raw == nil {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			return TableRecord{}, fmt.Errorf("%s: expected list, got %T", key, raw)
		}
		rules := make([]Rule, 0, len(list))
		for k, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				return TableRecord{}, fmt.Errorf("%s[%d]: expected object, got %T", key, k, item)
			}
			rule, ok := decodeRule(obj)
			if !ok {
				continue
			}
			rules = append(rules, rule)
		}
		if len(rules) > 0 {
			rec.Rules[op] = rules
		}
	}
	return rec, nil
}

// decodeRule reads one {role, permission} entry. Rules without a role are
// skipped.
func decodeRule(obj map[string]any) (Rule, bool) {
	role, ok := obj["role"].(string)
	if !ok || role == "" {
		return Rule{}, false
	}
	rule := Rule{Role: role}

	perm, _ := obj["permission"].(map[string]any)
	switch cols := perm["columns"].(type) {
	case string:
		rule.AllColumns = cols == "*"
	case []any:
		for _, c := range cols {
			if name, ok := c.(string); ok {
				rule.Columns = append(rule.Columns, name)
			}
		}
	}
	rule.Filter, _ = perm["filter"].(map[string]any)
	rule.Check, _ = perm["check"].(map[string]any)
	if set, ok := perm["set"].(map[string]any); ok {
		rule.Set = make(map[string]string, len(set))
		for k, v := range set {
			if s, ok := v.(string); ok {
				rule.Set[k] = s
			} else {
				rule.Set[k] = string(valuehash.Canonical(v))
			}
		}
	}
	return rule, true
}
