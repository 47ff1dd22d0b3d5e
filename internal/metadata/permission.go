package metadata

import "strings"

// Operation is one of the four governed actions on a table.
type Operation string

const (
	Create Operation = "C"
	Read   Operation = "R"
	Update Operation = "U"
	Delete Operation = "D"
)

// Operations lists every operation in matrix column order.
var Operations = []Operation{Create, Read, Update, Delete}

// Keys of the four rule lists on a table entry.
const (
	InsertPermissionsKey = "insert_permissions"
	SelectPermissionsKey = "select_permissions"
	UpdatePermissionsKey = "update_permissions"
	DeletePermissionsKey = "delete_permissions"
)

// PermissionListKeys maps each operation to its rule list key.
var PermissionListKeys = map[Operation]string{
	Create: InsertPermissionsKey,
	Read:   SelectPermissionsKey,
	Update: UpdatePermissionsKey,
	Delete: DeletePermissionsKey,
}

// FullName returns the human readable operation name.
func (o Operation) FullName() string {
	switch o {
	case Create:
		return "Create"
	case Read:
		return "Read"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	default:
		return string(o)
	}
}

// ParseOperation accepts the short code, the CRUD name or the SQL verb of an
// operation, case-insensitively.
func ParseOperation(s string) (Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "create", "insert":
		return Create, true
	case "r", "read", "select":
		return Read, true
	case "u", "update":
		return Update, true
	case "d", "delete":
		return Delete, true
	default:
		return "", false
	}
}

// PermissionEntry is one allowed operation for a (field, role) pair.
type PermissionEntry struct {
	Operation Operation `json:"operation"`
	HasFilter bool      `json:"has_filter"`
}

// Rule is one role's access grant for one operation on one table.
type Rule struct {
	Role       string
	Columns    []string
	AllColumns bool              // columns: "*"
	Filter     map[string]any    // nil when absent or not an object
	Check      map[string]any    // nil when absent or not an object
	Set        map[string]string // nil when absent or not an object
}

// TableRecord is the decoded permission metadata of one table.
type TableRecord struct {
	Name   string
	Schema string
	Source string
	Rules  map[Operation][]Rule
}

// RuleCount returns the number of rules across all operations.
func (r *TableRecord) RuleCount() int {
	n := 0
	for _, rules := range r.Rules {
		n += len(rules)
	}
	return n
}

// reserved filter keys never count as, or display as, a row filter.
func isReservedFilterKey(k string) bool {
	return k == "columns" || k == "check"
}

// hasValidFilter reports whether filter has at least one non-reserved key.
func hasValidFilter(filter map[string]any) bool {
	for k := range filter {
		if !isReservedFilterKey(k) {
			return true
		}
	}
	return false
}
