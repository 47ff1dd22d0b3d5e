package engine

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"permission-explorer/internal/export"
	"permission-explorer/internal/metadata"
)

// Handler serves read-only queries against the registry's active index.
type Handler struct {
	registry *metadata.Registry
	cells    *CellFilter
	logger   *zap.Logger
}

func NewHandler(reg *metadata.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cells, _ := NewCellFilter(128)
	return &Handler{registry: reg, cells: cells, logger: logger}
}

type tableSummary struct {
	Key    string   `json:"key"`
	Name   string   `json:"name"`
	Schema string   `json:"schema,omitempty"`
	Source string   `json:"source,omitempty"`
	Fields []string `json:"fields"`
}

type tableDetail struct {
	tableSummary
	Roles              []string             `json:"roles"`
	FilteredOperations []metadata.Operation `json:"filtered_operations"`
	SetOperations      []metadata.Operation `json:"set_operations"`
	PathCount          int                  `json:"path_count"`
}

type filterResponse struct {
	Table           string            `json:"table"`
	Role            string            `json:"role"`
	Operation       string            `json:"operation"`
	OperationName   string            `json:"operation_name"`
	Filter          map[string]any    `json:"filter"`
	FormattedFilter string            `json:"formatted_filter"`
	Set             map[string]string `json:"set"`
	FormattedSet    string            `json:"formatted_set"`
}

type exportRequest struct {
	Roles  []string `json:"roles"`
	Tables []string `json:"tables"`
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	doc, ix := h.registry.Current()
	resp := fiber.Map{
		"status": "ok",
		"tables": len(ix.Tables()),
		"roles":  len(ix.Roles()),
	}
	if doc != nil {
		resp["document"] = doc
	}
	return c.JSON(resp)
}

// Roles handles GET /api/roles
func (h *Handler) Roles(c *fiber.Ctx) error {
	ix := h.registry.Index()
	return c.JSON(fiber.Map{"data": ix.Roles(), "meta": indexMeta(ix)})
}

// ListTables handles GET /api/tables?q=&exact=&case=
func (h *Handler) ListTables(c *fiber.Ctx) error {
	ix := h.registry.Index()
	s := parseSearch(c)

	keys := ix.VisibleTableKeys(s.Query, s.ExactMatch, s.CaseSensitive)
	data := make([]tableSummary, 0, len(keys))
	for _, key := range keys {
		data = append(data, summarize(ix.Table(key), s))
	}

	meta := indexMeta(ix)
	meta["total"] = len(data)
	return c.JSON(fiber.Map{"data": data, "meta": meta})
}

// GetTable handles GET /api/tables/:table
func (h *Handler) GetTable(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": tableDetail{
		tableSummary:       summarize(t, metadata.Search{}),
		Roles:              t.Roles(),
		FilteredOperations: t.OperationsWithFilters(nil, nil),
		SetOperations:      t.OperationsWithSets(nil, nil),
		PathCount:          t.PathCount(),
	}})
}

// Permissions handles GET /api/tables/:table/permissions?role=&field=&q=
// and returns field -> role -> allowed operations.
func (h *Handler) Permissions(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}

	roles := splitComma(c.Query("role"))
	if len(roles) == 0 {
		roles = t.Roles()
	}
	fields := splitComma(c.Query("field"))
	if len(fields) == 0 {
		fields = t.MatchingFields(parseSearch(c))
	}

	matrix := make(map[string]map[string][]metadata.PermissionEntry, len(fields))
	for _, field := range fields {
		row := make(map[string][]metadata.PermissionEntry, len(roles))
		for _, role := range roles {
			row[role] = t.PermissionsFor(role, field)
		}
		matrix[field] = row
	}

	return c.JSON(fiber.Map{
		"data": matrix,
		"meta": fiber.Map{
			"table":               t.Name(),
			"roles":               roles,
			"fields":              nonNil(fields),
			"filtered_operations": t.OperationsWithFilters(roles, nil),
			"set_operations":      t.OperationsWithSets(roles, nil),
		},
	})
}

// Filter handles GET /api/tables/:table/filters/:role/:op
func (h *Handler) Filter(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}
	op, ok := metadata.ParseOperation(c.Params("op"))
	if !ok {
		return respondError(c, InvalidParamError("operation", "expected one of C, R, U, D"))
	}
	sep := c.Query("sep", "\n")

	role := c.Params("role")
	filter := t.FilterFor(role, op)
	set := t.SetFor(role, op)
	return c.JSON(fiber.Map{"data": filterResponse{
		Table:           t.Name(),
		Role:            role,
		Operation:       string(op),
		OperationName:   op.FullName(),
		Filter:          filter,
		FormattedFilter: metadata.FormatFilter(filter),
		Set:             set,
		FormattedSet:    metadata.FormatSet(set, sep),
	}})
}

// Cells handles GET /api/tables/:table/cells?where=&role=&op=&q=
func (h *Handler) Cells(c *fiber.Ctx) error {
	t, err := h.resolveTable(c)
	if err != nil {
		return err
	}

	var ops []metadata.Operation
	for _, raw := range splitComma(c.Query("op")) {
		op, ok := metadata.ParseOperation(raw)
		if !ok {
			return respondError(c, InvalidParamError("op", "unknown operation "+raw))
		}
		ops = append(ops, op)
	}

	cells := TableCells(t, splitComma(c.Query("role")), parseSearch(c), ops)
	cells, err = h.cells.Filter(cells, strings.TrimSpace(c.Query("where")))
	if err != nil {
		return respondError(c, InvalidParamError("where", err.Error()))
	}
	return c.JSON(fiber.Map{"data": cells, "meta": fiber.Map{"total": len(cells)}})
}

// Highlight handles GET /api/highlight?table=&path=
func (h *Handler) Highlight(c *fiber.Ctx) error {
	table, path := c.Query("table"), c.Query("path")
	var details []ErrorDetail
	if table == "" {
		details = append(details, ErrorDetail{Field: "table", Rule: "required", Message: "table is required"})
	}
	if path == "" {
		details = append(details, ErrorDetail{Field: "path", Rule: "required", Message: "path is required"})
	}
	if len(details) > 0 {
		return respondError(c, ValidationError(details))
	}

	ix := h.registry.Index()
	if ix.Table(table) == nil {
		return respondError(c, UnknownTableError(table))
	}
	hl, ok := ix.Highlight(table, path)
	if !ok {
		return respondError(c, NotFoundError("path", path))
	}
	return c.JSON(fiber.Map{"data": hl})
}

// Export handles POST /api/export and returns the trimmed document as a
// downloadable bundle.
func (h *Handler) Export(c *fiber.Ctx) error {
	var req exportRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	if len(req.Tables) == 0 {
		return respondError(c, ValidationError([]ErrorDetail{
			{Field: "tables", Rule: "required", Message: "at least one table is required"},
		}))
	}

	doc, ix := h.registry.Current()
	if doc == nil {
		return respondError(c, NoDocumentError())
	}
	roles := req.Roles
	if len(roles) == 0 {
		roles = ix.Roles()
	}

	bundle := export.NewBundle(doc.Raw, roles, req.Tables)
	c.Attachment("permissions-export.json")
	if _, err := bundle.WriteTo(c); err != nil {
		return err
	}
	h.logger.Info("export written",
		zap.Strings("tables", req.Tables),
		zap.Int("roles", len(roles)),
	)
	return nil
}

// resolveTable returns an *AppError for unknown tables; the app's
// ErrorHandler renders it.
func (h *Handler) resolveTable(c *fiber.Ctx) (*metadata.TableIndex, error) {
	name := c.Params("table")
	t := h.registry.Index().Table(name)
	if t == nil {
		return nil, UnknownTableError(name)
	}
	return t, nil
}

func summarize(t *metadata.TableIndex, s metadata.Search) tableSummary {
	return tableSummary{
		Key:    t.Key(),
		Name:   t.Name(),
		Schema: t.Schema(),
		Source: t.Source(),
		Fields: nonNil(t.MatchingFields(s)),
	}
}

func indexMeta(ix *metadata.Index) fiber.Map {
	meta := fiber.Map{}
	if msg := ix.ErrorMessage(); msg != "" {
		meta["error"] = msg
	}
	return meta
}

func parseSearch(c *fiber.Ctx) metadata.Search {
	return metadata.Search{
		Query:         c.Query("q"),
		ExactMatch:    c.QueryBool("exact"),
		CaseSensitive: c.QueryBool("case"),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func splitComma(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
