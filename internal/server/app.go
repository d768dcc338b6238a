// Package server initializes and runs the get-key server.
// It opens the database and applies migrations, wires the key flow services,
// and runs the HTTP API and the gRPC health endpoint until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/dmitrijs2005/getkey/internal/server/challenge"
	"github.com/dmitrijs2005/getkey/internal/server/config"
	"github.com/dmitrijs2005/getkey/internal/server/events"
	"github.com/dmitrijs2005/getkey/internal/server/metrics"
	"github.com/dmitrijs2005/getkey/internal/server/quota"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/getkey/internal/server/services"
	"github.com/dmitrijs2005/getkey/internal/server/tokens"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	gs "github.com/dmitrijs2005/getkey/internal/server/grpc"
	httpapi "github.com/dmitrijs2005/getkey/internal/server/http"
)

const (
	shutdownTimeout  = 10 * time.Second
	migrationTimeout = time.Minute
)

type App struct {
	config         *config.Config
	logger         logging.Logger
	db             *sql.DB
	repoManager    repomanager.RepositoryManager
	registry       *prometheus.Registry
	keyFlow        *services.KeyFlowService
	keys           *services.KeyService
	closePublisher func() error
}

func NewApp(c *config.Config) (*App, error) {

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	app, err := newApp(c, logger, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(c *config.Config, logger logging.Logger, db *sql.DB) (*App, error) {

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("repository manager init error: %w", err)
	}

	codec, err := tokens.NewCodec(c.TokenFormat, []byte(c.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("token codec init error: %w", err)
	}

	verifier, err := challenge.NewHTTPVerifier(c.ChallengeVerifyURL, c.ChallengeSecret, c.ChallengeTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("challenge verifier init error: %w", err)
	}

	publisher, closePublisher, err := events.NewMessagePublisher(c.RedisURL, events.NewLoggerAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("event publisher init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "getkey"),
	)

	keyFlow := services.NewKeyFlowService(db, rm, c, codec, verifier, quota.NewPlanQuota(db, rm, nil), logger,
		services.WithPublisher(events.NewWatermillPublisher(publisher)),
		services.WithMetrics(metrics.NewRecorder(registry)),
	)

	return &App{
		config:         c,
		logger:         logger,
		db:             db,
		repoManager:    rm,
		registry:       registry,
		keyFlow:        keyFlow,
		keys:           services.NewKeyService(db, rm, logger, nil),
		closePublisher: closePublisher,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.db.PingContext, 0)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server error", "error", err)
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	router, err := httpapi.SetupRouter(app.keyFlow, app.keys, httpapi.RouterConfig{
		RequestsPerSecond: app.config.RequestsPerSecond,
		RequestBurst:      app.config.RequestBurst,
		TrustedProxies:    app.config.TrustedProxies,
		Gatherer:          app.registry,
	}, app.logger)
	if err != nil {
		app.logger.Error(ctx, "http router error", "error", err)
		cancelFunc()
		return
	}

	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server error", "error", err)
		cancelFunc()
	}
}

// Run applies migrations and serves until ctx is cancelled or a shutdown
// signal arrives. Resources are released before it returns.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")

	migrateCtx, cancelMigrate := context.WithTimeout(ctx, migrationTimeout)
	err := app.repoManager.RunMigrations(migrateCtx, app.db)
	cancelMigrate()
	if err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	return nil
}

func (app *App) close() {
	ctx := context.Background()

	app.keyFlow.Wait()

	if err := app.closePublisher(); err != nil {
		app.logger.Warn(ctx, "event publisher close error", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
