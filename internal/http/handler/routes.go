package handler

import (
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"

	"personnelexport/internal/service"
)

// RegisterRoutes attaches the export form, download, JSON API and health routes.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.ExportService, presignExpiry time.Duration) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Get("/", ExportForm(svc))
	app.Post("/export", SubmitExport(svc))
	app.Get("/exports/:id/download", DownloadExport(svc))

	api := app.Group("/api")
	api.Post("/exports", CreateExport(svc))
	api.Get("/exports", ListExports(svc))
	api.Get("/exports/:id", GetExport(svc, presignExpiry))
	api.Delete("/exports/:id", DeleteExport(svc))
}
