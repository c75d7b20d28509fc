package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"personnelexport/docs"
	"personnelexport/internal/config"
	"personnelexport/internal/database"
	handlers "personnelexport/internal/http/handler"
	"personnelexport/internal/http/middleware"
	"personnelexport/internal/logging"
	"personnelexport/internal/metrics"
	"personnelexport/internal/otel"
	"personnelexport/internal/portal"
	"personnelexport/internal/repository/postgres"
	"personnelexport/internal/service"
	"personnelexport/internal/storage"
)

// @title Personnel Export API
// @version 1.0
// @description Pulls personnel listings from the portal and stores them as CSV exports.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "error", time.UTC).Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.Location())
	fatal := func(event string, err error) {
		logger.Error(event, "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		fatal("tracing_init_failed", err)
	}

	db, err := database.Setup(ctx, cfg.Database, logger)
	if err != nil {
		fatal("db_setup_failed", err)
	}
	defer db.Close()

	// Reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		fatal("storage_init_failed", err)
	}

	portalClient, err := portal.NewClient(cfg.Portal, logger.With("component", "portal"))
	if err != nil {
		fatal("portal_init_failed", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpMetrics, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		fatal("metrics_init_failed", err)
	}
	exportMetrics, err := metrics.NewExportMetrics(reg)
	if err != nil {
		fatal("metrics_init_failed", err)
	}

	exportRepo := postgres.NewExportPostgres(db)
	exportSvc := service.NewExportService(portalClient, objStore, exportRepo, service.Options{
		DefaultLimit:  cfg.Portal.DefaultLimit,
		MaxLimit:      cfg.Portal.MaxLimit,
		Division:      cfg.Portal.Division,
		PresignExpiry: cfg.MinIO.PresignExpiry(),
		Metrics:       exportMetrics,
		Logger:        logger.With("component", "service"),
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		ReadTimeout:  30 * time.Second,
		// A submission spans the login round trips and the data fetch.
		WriteTimeout: 3*cfg.Portal.Timeout() + 10*time.Second,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(logger.With("component", "http")))
	app.Use(otelfiber.Middleware())
	app.Use(httpMetrics.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	handlers.RegisterRoutes(app, db, exportSvc, cfg.MinIO.PresignExpiry())

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_starting", "addr", addr, "portal", cfg.Portal.BaseURL)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			fatal("server_failed", err)
		}
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err.Error())
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing_shutdown_failed", "error", err.Error())
	}
}
