package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mhollstein/briefwerk/internal"
	"github.com/mhollstein/briefwerk/internal/convert"
	"github.com/mhollstein/briefwerk/internal/crypto"
	"github.com/mhollstein/briefwerk/internal/delivery"
	"github.com/mhollstein/briefwerk/internal/docmerge"
	"github.com/mhollstein/briefwerk/internal/handler"
	"github.com/mhollstein/briefwerk/internal/middleware"
	"github.com/mhollstein/briefwerk/internal/postgres"
	"github.com/mhollstein/briefwerk/internal/router"
	"github.com/mhollstein/briefwerk/internal/routes"
	"github.com/mhollstein/briefwerk/internal/session"
	"github.com/mhollstein/briefwerk/internal/wizard"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Credential encryption key. A missing key is tolerated in dev only;
	// stored settings become unreadable after a restart.
	keyMaterial := cfg.EncryptionKey
	if keyMaterial == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate encryption key: %w", err)
		}
		keyMaterial = crypto.EncodeKeyBase64(key)
		logger.Warn("ENCRYPTION_KEY not set, using a throwaway key for this run")
	}
	key, err := crypto.DecodeKeyBase64(keyMaterial)
	if err != nil {
		return fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}
	encryptor, err := crypto.NewAESEncryptor(key)
	if err != nil {
		return fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	settingsStore := postgres.NewSettingsStore(pool, encryptor)

	// Document pipeline
	merger, err := docmerge.NewMerger(cfg.Dirs.Work)
	if err != nil {
		return fmt.Errorf("failed to initialize document merger: %w", err)
	}
	converter, err := convert.NewConverter(cfg.Converter.ToolPath, cfg.Dirs.Output, cfg.Converter.Timeout)
	if err != nil {
		return fmt.Errorf("failed to initialize converter: %w", err)
	}

	engine := delivery.NewEngine(logger)

	wizardService, err := wizard.NewService(
		logger,
		cfg.AccountID,
		cfg.Dirs.Uploads,
		cfg.Dirs.Output,
		wizard.NewPipeline(merger, converter),
		engine,
		settingsStore,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize wizard service: %w", err)
	}

	// Sessions; expired ones take their workflow files with them
	sessions := session.NewStore(cfg.Env == "prod", wizardService.Reset)

	// Load templates with renderer
	logger.Info("Loading templates...")
	renderer, err := handler.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}
	logger.Info("Templates loaded successfully")

	wizardHandler := handler.NewWizardHandler(logger, renderer, wizardService, sessions)
	settingsHandler, err := handler.NewSettingsHandler(logger, renderer, settingsStore, delivery.TestConnection, cfg.AccountID, sessions)
	if err != nil {
		return fmt.Errorf("failed to initialize settings handler: %w", err)
	}

	// Initialize Prometheus metrics
	metrics := middleware.NewMetrics("briefwerk")

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.Register(r, routes.Deps{
		Wizard:   wizardHandler,
		Settings: settingsHandler,
		Health: func(w http.ResponseWriter, req *http.Request) {
			if err := sqlDB.PingContext(req.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		},
		Metrics: metrics.Handler(),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting server", "address", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
