package engine

import "github.com/gofiber/fiber/v2"

// RegisterQueryRoutes mounts the read-only index API.
func RegisterQueryRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	app.Get("/health", h.Health)

	handlers := make([]fiber.Handler, len(middleware))
	copy(handlers, middleware)
	api := app.Group("/api", handlers...)

	api.Get("/roles", h.Roles)
	api.Get("/tables", h.ListTables)
	api.Get("/tables/:table", h.GetTable)
	api.Get("/tables/:table/permissions", h.Permissions)
	api.Get("/tables/:table/filters/:role/:op", h.Filter)
	api.Get("/tables/:table/cells", h.Cells)
	api.Get("/highlight", h.Highlight)
	api.Post("/export", h.Export)
}
