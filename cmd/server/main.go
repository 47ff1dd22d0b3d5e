package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"permission-explorer/internal/activity"
	"permission-explorer/internal/admin"
	"permission-explorer/internal/auth"
	"permission-explorer/internal/config"
	"permission-explorer/internal/engine"
	"permission-explorer/internal/logging"
	"permission-explorer/internal/metadata"
	"permission-explorer/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	lg, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck
	lg.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver),
	)

	// 3. Connect to database
	db, err := store.New(ctx, cfg.Database, lg)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// 4. Bootstrap document table
	if err := db.Bootstrap(ctx); err != nil {
		lg.Fatal("failed to bootstrap system tables", zap.Error(err))
	}

	// 5. Registry and initial document
	opts := []metadata.Option{
		metadata.WithConcurrency(cfg.Index.Concurrency),
		metadata.WithSearchCacheSize(cfg.Index.SearchCacheSize),
	}
	reg := metadata.NewRegistry()
	if cfg.Metadata.File != "" {
		if err := seedDocument(ctx, db, reg, cfg.Metadata.File, opts, lg); err != nil {
			lg.Warn("failed to load metadata file", zap.String("file", cfg.Metadata.File), zap.Error(err))
		}
	}
	if reg.Document() == nil {
		if _, err := metadata.LoadLatest(ctx, db, reg, lg, opts...); err != nil {
			lg.Warn("failed to load stored metadata", zap.Error(err))
		}
	}

	// 6. Activity log
	var recorder activity.Recorder = activity.Nop{}
	if cfg.Activity.Enabled {
		buf := activity.NewBuffer(db, cfg.Activity.BufferSize,
			time.Duration(cfg.Activity.FlushIntervalMs)*time.Millisecond, lg)
		defer buf.Stop()
		recorder = buf

		pruneCtx, cancelPrune := context.WithCancel(ctx)
		defer cancelPrune()
		go activity.PruneEvery(pruneCtx, db, cfg.Activity.RetentionDays, 24*time.Hour, lg)
	}

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler(lg),
		BodyLimit:    cfg.Server.BodyLimit,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.Log.Development,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 8-10. Auth, admin and query routes
	registerRoutes(app, cfg, db, reg, recorder, opts, lg)

	// 11. Shut down on SIGINT/SIGTERM so deferred flushes run
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			lg.Error("shutdown", zap.Error(err))
		}
	}()

	// 12. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	lg.Info("starting server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		lg.Error("server stopped", zap.Error(err))
	}
}

// registerRoutes mounts the login, admin and read-only query routes. The admin
// group is skipped unless a password hash and a non-default JWT secret are
// configured, since its middleware trusts any token signed with the secret.
func registerRoutes(app *fiber.App, cfg *config.Config, db *store.Store, reg *metadata.Registry, recorder activity.Recorder, opts []metadata.Option, lg *zap.Logger) {
	authHandler := auth.NewAuthHandler(cfg.AdminPasswordHash, cfg.JWTSecret, lg,
		auth.WithLoginLimit(cfg.LoginPerMinute, cfg.LoginBurst))
	auth.RegisterAuthRoutes(app, authHandler)

	if reason := cfg.AdminDisabledReason(); reason != "" {
		lg.Warn("document administration is disabled", zap.String("reason", reason))
	} else {
		adminHandler := admin.NewHandler(db, reg, recorder, lg, opts...)
		admin.RegisterAdminRoutes(app, adminHandler, auth.AuthMiddleware(cfg.JWTSecret), auth.RequireAdmin())
	}

	engine.RegisterQueryRoutes(app, engine.NewHandler(reg, lg))
}

// seedDocument stores the configured metadata file and makes it active.
func seedDocument(ctx context.Context, db *store.Store, reg *metadata.Registry, path string, opts []metadata.Option, lg *zap.Logger) error {
	doc, ix, err := metadata.Open(path, opts...)
	if err != nil {
		return err
	}
	if perr := ix.Err(); perr != nil {
		return perr
	}
	body, err := metadata.Encode(doc.Raw)
	if err != nil {
		return err
	}
	stored, created, err := db.SaveDocument(ctx, doc.Name, doc.Hash, body)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	if err := db.ActivateDocument(ctx, stored.ID); err != nil {
		return fmt.Errorf("activate document: %w", err)
	}
	doc.ID = stored.ID
	reg.Load(doc, ix)

	lg.Info("metadata file loaded",
		zap.String("file", path),
		zap.String("id", stored.ID),
		zap.Bool("created", created),
		zap.Int("tables", len(ix.Tables())),
	)
	return nil
}
