package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"permission-explorer/internal/metadata"
)

// Cell is one allowed (role, field, operation) of a table's matrix.
type Cell struct {
	Table     string `json:"table" expr:"table"`
	Role      string `json:"role" expr:"role"`
	Field     string `json:"field" expr:"field"`
	Operation string `json:"operation" expr:"operation"`
	HasFilter bool   `json:"has_filter" expr:"has_filter"`
}

// TableCells lists the allowed cells of t for roles (all when empty) and the
// fields matching s, in field, role, operation order. When ops is non-empty
// only those operations are listed.
func TableCells(t *metadata.TableIndex, roles []string, s metadata.Search, ops []metadata.Operation) []Cell {
	if len(roles) == 0 {
		roles = t.Roles()
	}
	wanted := make(map[metadata.Operation]bool, len(ops))
	for _, op := range ops {
		wanted[op] = true
	}

	cells := []Cell{}
	for _, field := range t.MatchingFields(s) {
		for _, role := range roles {
			for _, entry := range t.PermissionsFor(role, field) {
				if len(wanted) > 0 && !wanted[entry.Operation] {
					continue
				}
				cells = append(cells, Cell{
					Table:     t.Key(),
					Role:      role,
					Field:     field,
					Operation: string(entry.Operation),
					HasFilter: entry.HasFilter,
				})
			}
		}
	}
	return cells
}

// CellFilter evaluates boolean expr-lang predicates over cells, e.g.
// `role == "user" && operation in ["U", "D"] && !has_filter`. Compiled
// programs are cached by expression string.
type CellFilter struct {
	programs *lru.Cache[string, *vm.Program]
}

func NewCellFilter(size int) (*CellFilter, error) {
	cache, err := lru.New[string, *vm.Program](size)
	if err != nil {
		return nil, fmt.Errorf("program cache: %w", err)
	}
	return &CellFilter{programs: cache}, nil
}

// Compile type-checks where against the Cell environment.
func (f *CellFilter) Compile(where string) (*vm.Program, error) {
	if prog, ok := f.programs.Get(where); ok {
		return prog, nil
	}
	prog, err := expr.Compile(where, expr.Env(Cell{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}
	f.programs.Add(where, prog)
	return prog, nil
}

// Filter returns the cells for which where holds. An empty where keeps all.
func (f *CellFilter) Filter(cells []Cell, where string) ([]Cell, error) {
	if where == "" {
		return cells, nil
	}
	prog, err := f.Compile(where)
	if err != nil {
		return nil, err
	}

	out := []Cell{}
	for _, cell := range cells {
		result, err := expr.Run(prog, cell)
		if err != nil {
			return nil, fmt.Errorf("evaluate predicate: %w", err)
		}
		if keep, _ := result.(bool); keep {
			out = append(out, cell)
		}
	}
	return out, nil
}
