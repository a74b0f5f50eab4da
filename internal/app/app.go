// Package app initializes and runs the main application service.
// It configures logging, storage, sessions, authentication, and routing,
// and handles graceful shutdown.
package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patric-chuzhbe/shoplite/internal/auth"
	"github.com/patric-chuzhbe/shoplite/internal/config"
	"github.com/patric-chuzhbe/shoplite/internal/db/jsondb"
	"github.com/patric-chuzhbe/shoplite/internal/db/memorystorage"
	"github.com/patric-chuzhbe/shoplite/internal/db/postgresdb"
	"github.com/patric-chuzhbe/shoplite/internal/db/storage"
	"github.com/patric-chuzhbe/shoplite/internal/logger"
	"github.com/patric-chuzhbe/shoplite/internal/models"
	"github.com/patric-chuzhbe/shoplite/internal/router"
	"github.com/patric-chuzhbe/shoplite/internal/service"
	"github.com/patric-chuzhbe/shoplite/internal/session"
)

// App encapsulates the configuration, HTTP handler, storage backend, and
// background session sweeper needed to run the shop service.
type App struct {
	cfg                *config.Config
	db                 storage.Storage
	sessions           *session.Manager
	stopSessionSweeper context.CancelFunc
	httpHandler        http.Handler
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up storage
// - seeding the products collection when configured
// - setting up the session table and its sweeper
// - setting up the router and middleware
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if app.cfg.UsesDefaultSigningKey() {
		logger.Log.Warnln("AUTH_COOKIE_SIGNING_SECRET_KEY is not set; session cookies are signed with the built-in development key")
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	if err := seedProducts(context.Background(), app.cfg, app.db); err != nil {
		return nil, err
	}

	authCookieSigningSecretKey, err := base64.URLEncoding.DecodeString(app.cfg.AuthCookieSigningSecretKey)
	if err != nil {
		return nil, err
	}

	app.sessions = session.New(app.cfg.SessionTTL, app.cfg.SessionSweepInterval)
	sweeperRunCtx, stopSessionSweeper := context.WithCancel(context.Background())
	app.stopSessionSweeper = stopSessionSweeper
	app.sessions.Run(sweeperRunCtx)

	app.httpHandler = router.New(
		service.NewUsers(app.db, app.sessions),
		service.NewProducts(app.db),
		service.NewOrders(app.db),
		auth.New(
			app.sessions,
			app.cfg.AuthCookieName,
			authCookieSigningSecretKey,
		),
		app.db,
		app.cfg.ImagesDir,
	)

	return app, nil
}

// Run starts the HTTP server with graceful shutdown support.
// It listens for system signals and cleans up resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infoln("server running", "RunAddr", a.cfg.RunAddr)

	server := &http.Server{
		Addr:    a.cfg.RunAddr,
		Handler: a.httpHandler,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Flushing collections and exiting...")
		a.stopSessionSweeper()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return a.db.Close()

	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DataDir != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage.Storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeFile:
		return jsondb.New(cfg.DataDir, cfg.CollectionLockWait)
	}

	return memorystorage.New(cfg.CollectionLockWait)
}

// seedProducts loads the catalog from the configured seed file when the
// products collection is still empty.
func seedProducts(ctx context.Context, cfg *config.Config, db storage.Storage) error {
	if cfg.ProductsSeedFile == "" {
		return nil
	}

	existing, err := db.GetProducts(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	seedData, err := os.ReadFile(cfg.ProductsSeedFile)
	if err != nil {
		return fmt.Errorf("error reading products seed file: %w", err)
	}

	var products []models.Product
	if err := json.Unmarshal(seedData, &products); err != nil {
		return fmt.Errorf("error parsing products seed file: %w", err)
	}

	if err := db.ReplaceProducts(ctx, products); err != nil {
		return err
	}

	logger.Log.Infof("seeded %d products from %s", len(products), cfg.ProductsSeedFile)

	return nil
}
