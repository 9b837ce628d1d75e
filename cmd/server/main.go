// Command server runs the direct-message HTTP API.
//
// @title                      Direct Messages API
// @version                    1.0
// @description                One-to-one chats with temporary messages, attachments and read state.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and a JWT.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/directory"
	httpapi "github.com/tbourn/go-dm-backend/internal/http"
	"github.com/tbourn/go-dm-backend/internal/notify"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
	"github.com/tbourn/go-dm-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	logger := sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName)
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if cfg.OTEL.Enabled {
		if err := repo.InstrumentTracing(db); err != nil {
			return err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := storage.NewLocalStore(cfg.Upload.Dir, httpapi.UploadsPrefix, cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(notify.NewGormSink(db), notify.Options{
		QueueSize: cfg.Notify.QueueSize,
		Workers:   cfg.Notify.Workers,
		Timeout:   cfg.Notify.Timeout,
	}, logger)

	dir := directory.NewUserDirectory(db)
	chats := services.NewChatService(db, services.GormChatRepo{}, dir)
	msgs := services.NewMessageService(db, chats, dir, dispatcher)
	msgs.MaxContentRunes = cfg.MaxContentRunes
	msgs.MaxTTL = cfg.TemporaryMaxTTL
	msgs.LinkBase = cfg.Notify.LinkBase
	msgs.Files = store
	session := services.NewChatSession(db, chats, msgs, cfg.IdempotencyTTL)
	reaper := services.NewExpiryReaper(db, cfg.ReaperInterval, logger)
	reaper.Files = store

	// The dispatcher outlives the signal: requests still in flight during
	// srv.Shutdown enqueue notifications, so it stops only after them.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		reaper.Run(ctx)
	}()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Session: session,
		Files:   store,
		Ready:   sqlDB.PingContext,
	}, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("api_base", cfg.APIBasePath).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		background.Wait()
		stopDispatch()
		<-dispatchDone
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return stopServing(sctx, srv, &background, stopDispatch, dispatchDone)
}

// shutdowner is the part of *http.Server used when stopping.
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// stopServing drains the HTTP server, waits for the background jobs and only
// then stops the notification dispatcher.
func stopServing(ctx context.Context, srv shutdowner, background *sync.WaitGroup, stopDispatch context.CancelFunc, dispatchDone <-chan struct{}) error {
	err := srv.Shutdown(ctx)
	background.Wait()
	stopDispatch()
	<-dispatchDone
	return err
}
