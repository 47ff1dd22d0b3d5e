package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"permission-explorer/internal/activity"
	"permission-explorer/internal/auth"
	"permission-explorer/internal/engine"
	"permission-explorer/internal/metadata"
	"permission-explorer/internal/store"
)

// Handler manages stored metadata documents and the active index.
type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	activity activity.Recorder
	opts     []metadata.Option
	logger   *zap.Logger
}

// NewHandler creates an admin Handler. A nil recorder disables the activity log.
func NewHandler(s *store.Store, reg *metadata.Registry, rec activity.Recorder, logger *zap.Logger, opts ...metadata.Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = activity.Nop{}
	}
	return &Handler{store: s, registry: reg, activity: rec, opts: opts, logger: logger}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	handlers := make([]fiber.Handler, len(middleware))
	copy(handlers, middleware)
	admin := app.Group("/api/_admin", handlers...)

	admin.Get("/documents", h.ListDocuments)
	admin.Post("/documents", h.UploadDocument)
	admin.Get("/documents/:id", h.GetDocument)
	admin.Delete("/documents/:id", h.DeleteDocument)
	admin.Post("/documents/:id/activate", h.ActivateDocument)
	admin.Get("/events", h.ListEvents)
}

type documentSummary struct {
	*store.Document
	Tables int `json:"tables"`
	Roles  int `json:"roles"`
}

// ListDocuments handles GET /api/_admin/documents
func (h *Handler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.store.ListDocuments(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": docs})
}

// GetDocument handles GET /api/_admin/documents/:id and includes the stored body.
func (h *Handler) GetDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	doc, err := h.store.GetDocument(c.Context(), id)
	if err != nil {
		return h.storeError(err, id)
	}
	return c.JSON(fiber.Map{
		"data":     doc,
		"document": json.RawMessage(doc.Body),
	})
}

// UploadDocument handles POST /api/_admin/documents. The request body is the
// metadata document itself (JSON, JSONC or YAML). Documents that do not parse
// are rejected; accepted ones are stored and, unless ?activate=false, loaded.
func (h *Handler) UploadDocument(c *fiber.Ctx) error {
	name := c.Query("name", "metadata.json")
	format := requestFormat(c, name)

	doc, ix, err := metadata.Build(name, c.Body(), format, h.opts...)
	if err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, err.Error())
	}
	if perr := ix.Err(); perr != nil {
		return engine.MetadataError(perr)
	}

	body, err := metadata.Encode(doc.Raw)
	if err != nil {
		return err
	}
	stored, created, err := h.store.SaveDocument(c.Context(), name, doc.Hash, body)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	if c.QueryBool("activate", true) {
		if err := h.store.ActivateDocument(c.Context(), stored.ID); err != nil {
			return fmt.Errorf("activate document: %w", err)
		}
		stored.Active = true
		doc.ID = stored.ID
		doc.Name = stored.Name
		h.registry.Load(doc, ix)
	}

	h.record(c, activity.DocumentUploaded, stored.ID, map[string]any{
		"name":    stored.Name,
		"created": created,
		"active":  stored.Active,
		"tables":  len(ix.Tables()),
	})
	h.logger.Info("document uploaded",
		zap.String("id", stored.ID),
		zap.String("name", stored.Name),
		zap.Bool("created", created),
		zap.Bool("active", stored.Active),
	)

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": documentSummary{
		Document: stored,
		Tables:   len(ix.Tables()),
		Roles:    len(ix.Roles()),
	}})
}

// ActivateDocument handles POST /api/_admin/documents/:id/activate
func (h *Handler) ActivateDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	stored, err := h.store.GetDocument(c.Context(), id)
	if err != nil {
		return h.storeError(err, id)
	}

	doc, ix, err := metadata.Build(stored.Name, stored.Body, metadata.FormatJSON, h.opts...)
	if err != nil {
		return fmt.Errorf("decode stored document %s: %w", id, err)
	}
	if perr := ix.Err(); perr != nil {
		return engine.MetadataError(perr)
	}

	if err := h.store.ActivateDocument(c.Context(), id); err != nil {
		return h.storeError(err, id)
	}
	doc.ID = stored.ID
	h.registry.Load(doc, ix)
	stored.Active = true

	h.record(c, activity.DocumentActivated, id, map[string]any{"tables": len(ix.Tables())})
	h.logger.Info("document activated", zap.String("id", id), zap.Int("tables", len(ix.Tables())))
	return c.JSON(fiber.Map{"data": documentSummary{
		Document: stored,
		Tables:   len(ix.Tables()),
		Roles:    len(ix.Roles()),
	}})
}

// DeleteDocument handles DELETE /api/_admin/documents/:id. The active
// document cannot be deleted.
func (h *Handler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if active := h.registry.Document(); active != nil && active.ID == id {
		return engine.NewAppError("CONFLICT", 409, "Cannot delete the active document")
	}
	if err := h.store.DeleteDocument(c.Context(), id); err != nil {
		return h.storeError(err, id)
	}
	h.record(c, activity.DocumentDeleted, id, nil)
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": id}})
}

// ListEvents handles GET /api/_admin/events?action=&document_id=&limit=
func (h *Handler) ListEvents(c *fiber.Ctx) error {
	events, err := h.store.ListEvents(c.Context(), store.EventFilter{
		Action:     c.Query("action"),
		DocumentID: c.Query("document_id"),
		Limit:      c.QueryInt("limit"),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": events})
}

func (h *Handler) record(c *fiber.Ctx, action, documentID string, detail map[string]any) {
	e := store.Event{Action: action, DocumentID: documentID, Detail: detail}
	if p := auth.GetPrincipal(c); p != nil {
		e.Actor = p.ID
	}
	h.activity.Record(e)
}

func (h *Handler) storeError(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("document", id)
	}
	return err
}

// requestFormat picks the decoder from ?format=, then Content-Type, then the
// document name.
func requestFormat(c *fiber.Ctx, name string) metadata.Format {
	switch strings.ToLower(c.Query("format")) {
	case "yaml", "yml":
		return metadata.FormatYAML
	case "json":
		return metadata.FormatJSON
	case "jsonc":
		return metadata.FormatJSONC
	}
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	if strings.Contains(ct, "yaml") {
		return metadata.FormatYAML
	}
	if strings.Contains(ct, "json") {
		return metadata.FormatJSONC
	}
	return metadata.FormatFromPath(name)
}
