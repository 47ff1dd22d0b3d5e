package metadata

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"permission-explorer/internal/valuehash"
)

// TableIndex holds the precomputed permission lookups of one table. It is
// built once by NewTableIndex (Parse then assigns its key) and never modified
// afterwards; slices and maps
// returned by its accessors are shared and must be treated as read-only.
type TableIndex struct {
	key    string
	name   string
	schema string
	source string
	roles  []string
	fields []string

	permissions map[string]map[string][]PermissionEntry // field -> role
	filters     map[string]map[Operation]map[string]any
	sets        map[string]map[Operation]map[string]string
	pathHashes  map[string]string
}

var noPermissions = []PermissionEntry{}

// NewTableIndex indexes rec against the global role list. Roles with no rule
// on this table get empty permissions, so every table shares the same role
// axis. When a role has several rules for one operation the first one wins.
func NewTableIndex(rec TableRecord, roles []string) *TableIndex {
	ti := &TableIndex{
		name:        rec.Name,
		schema:      rec.Schema,
		source:      rec.Source,
		roles:       roles,
		fields:      extractFields(rec),
		permissions: make(map[string]map[string][]PermissionEntry),
		filters:     make(map[string]map[Operation]map[string]any),
		sets:        make(map[string]map[Operation]map[string]string),
		pathHashes:  make(map[string]string),
	}

	byRole := firstRulePerRole(rec)

	for _, field := range ti.fields {
		roleMap := make(map[string][]PermissionEntry, len(roles))
		for _, role := range roles {
			roleMap[role] = computeEntries(byRole[role], field)
		}
		ti.permissions[field] = roleMap
	}

	for _, role := range roles {
		for _, op := range Operations {
			rule := byRole[role][op]
			if rule == nil {
				continue
			}
			if hasValidFilter(rule.Filter) {
				if ti.filters[role] == nil {
					ti.filters[role] = make(map[Operation]map[string]any)
				}
				ti.filters[role][op] = rule.Filter
				ti.collectPathHashes(rule.Filter, role+":"+string(op))
			}
			if len(rule.Set) > 0 {
				if ti.sets[role] == nil {
					ti.sets[role] = make(map[Operation]map[string]string)
				}
				ti.sets[role][op] = rule.Set
			}
		}
	}

	return ti
}

// indexedRule is a rule with its column list turned into a set.
type indexedRule struct {
	*Rule
	columns map[string]struct{}
}

func firstRulePerRole(rec TableRecord) map[string]map[Operation]*indexedRule {
	byRole := make(map[string]map[Operation]*indexedRule)
	for _, op := range Operations {
		rules := rec.Rules[op]
		for i := range rules {
			r := &rules[i]
			ops := byRole[r.Role]
			if ops == nil {
				ops = make(map[Operation]*indexedRule, len(Operations))
				byRole[r.Role] = ops
			}
			if _, dup := ops[op]; dup {
				continue
			}
			cols := make(map[string]struct{}, len(r.Columns))
			for _, c := range r.Columns {
				cols[c] = struct{}{}
			}
			ops[op] = &indexedRule{Rule: r, columns: cols}
		}
	}
	return byRole
}

func computeEntries(ops map[Operation]*indexedRule, field string) []PermissionEntry {
	var entries []PermissionEntry
	for _, op := range Operations {
		rule := ops[op]
		if rule == nil {
			continue
		}
		_, listed := rule.columns[field]
		allowed := rule.AllColumns || listed
		// Delete rules carry no columns; a filter grants row deletion.
		if !allowed && op == Delete && rule.Filter != nil {
			allowed = true
		}
		if allowed {
			entries = append(entries, PermissionEntry{Operation: op, HasFilter: hasValidFilter(rule.Filter)})
		}
	}
	if entries == nil {
		return noPermissions
	}
	return entries
}

func extractFields(rec TableRecord) []string {
	seen := make(map[string]struct{})
	fields := []string{}
	for _, op := range Operations {
		for _, r := range rec.Rules[op] {
			for _, c := range r.Columns {
				if _, ok := seen[c]; ok {
					continue
				}
				seen[c] = struct{}{}
				fields = append(fields, c)
			}
		}
	}
	sort.Strings(fields)
	return fields
}

// collectPathHashes records the hash of v at path and descends into arrays
// and objects. Object keys are walked in sorted order so that colliding
// paths such as "a.b" and "a" > "b" always resolve the same way.
func (ti *TableIndex) collectPathHashes(v any, path string) {
	ti.pathHashes[path] = valuehash.Sum(v)

	switch valuehash.KindOf(v) {
	case valuehash.Array:
		for i, item := range v.([]any) {
			ti.collectPathHashes(item, path+"["+strconv.Itoa(i)+"]")
		}
	case valuehash.Object:
		obj := v.(map[string]any)
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ti.collectPathHashes(obj[k], path+"."+k)
		}
	case valuehash.Null, valuehash.Scalar:
	}
}

// Name returns the table name.
func (ti *TableIndex) Name() string { return ti.name }

// Key returns the table's document-unique key: its name, qualified by source
// and schema when another table shares the name.
func (ti *TableIndex) Key() string {
	if ti.key == "" {
		return ti.name
	}
	return ti.key
}

// Schema returns the table schema, or "" if the document did not name one.
func (ti *TableIndex) Schema() string { return ti.schema }

// Source returns the name of the source the table was declared in.
func (ti *TableIndex) Source() string { return ti.source }

// Roles returns the global role list the table was indexed against.
func (ti *TableIndex) Roles() []string { return ti.roles }

// Fields returns the sorted column names referenced by any rule.
func (ti *TableIndex) Fields() []string { return ti.fields }

// PermissionsFor returns the allowed operations of role on field, in C, R, U,
// D order. Unknown roles and fields yield an empty list.
func (ti *TableIndex) PermissionsFor(role, field string) []PermissionEntry {
	if entries, ok := ti.permissions[field][role]; ok {
		return entries
	}
	return noPermissions
}

// FilterFor returns the row filter of role for op, or nil.
func (ti *TableIndex) FilterFor(role string, op Operation) map[string]any {
	return ti.filters[role][op]
}

// SetFor returns the column presets of role for op, or nil.
func (ti *TableIndex) SetFor(role string, op Operation) map[string]string {
	return ti.sets[role][op]
}

// HashForPath returns the content hash of the filter node at path.
func (ti *TableIndex) HashForPath(path string) (string, bool) {
	h, ok := ti.pathHashes[path]
	return h, ok
}

// PathCount returns the number of indexed filter nodes.
func (ti *TableIndex) PathCount() int { return len(ti.pathHashes) }

// MatchingFields returns the fields matched by s, in sorted order. A blank
// query matches every field.
func (ti *TableIndex) MatchingFields(s Search) []string {
	if s.IsBlank() {
		return ti.fields
	}
	var out []string
	for _, f := range ti.fields {
		if s.Matches(f) {
			out = append(out, f)
		}
	}
	return out
}

// HasVisibleFields reports whether at least one field matches s.
func (ti *TableIndex) HasVisibleFields(s Search) bool {
	if s.IsBlank() {
		return len(ti.fields) > 0
	}
	for _, f := range ti.fields {
		if s.Matches(f) {
			return true
		}
	}
	return false
}

// OperationsWithFilters returns the operations of ops (all when nil) for
// which at least one of roles (all when nil) has a row filter.
func (ti *TableIndex) OperationsWithFilters(roles []string, ops []Operation) []Operation {
	return ti.operationsWhere(roles, ops, func(role string, op Operation) bool {
		return ti.filters[role][op] != nil
	})
}

// OperationsWithSets returns the operations of ops (all when nil) for which
// at least one of roles (all when nil) has column presets.
func (ti *TableIndex) OperationsWithSets(roles []string, ops []Operation) []Operation {
	return ti.operationsWhere(roles, ops, func(role string, op Operation) bool {
		return ti.sets[role][op] != nil
	})
}

func (ti *TableIndex) operationsWhere(roles []string, ops []Operation, has func(string, Operation) bool) []Operation {
	if roles == nil {
		roles = ti.roles
	}
	if ops == nil {
		ops = Operations
	}
	out := []Operation{}
	for _, op := range ops {
		for _, role := range roles {
			if has(role, op) {
				out = append(out, op)
				break
			}
		}
	}
	return out
}

// FormatFilter pretty-prints filter without its reserved keys. It returns ""
// when nothing displayable remains.
func FormatFilter(filter map[string]any) string {
	if !hasValidFilter(filter) {
		return ""
	}
	display := make(map[string]any, len(filter))
	for k, v := range filter {
		if !isReservedFilterKey(k) {
			display[k] = v
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(display); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// FormatSet renders set as key=value pairs sorted by key and joined by sep.
func FormatSet(set map[string]string, sep string) string {
	if len(set) == 0 {
		return ""
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + set[k]
	}
	return strings.Join(parts, sep)
}
