package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/haven-chat/haven/internal/api"
	"github.com/haven-chat/haven/internal/chat"
	"github.com/haven-chat/haven/internal/config"
	"github.com/haven-chat/haven/internal/database"
	"github.com/haven-chat/haven/internal/log"
	"github.com/haven-chat/haven/internal/registry"
	"github.com/haven-chat/haven/internal/store"
	"github.com/haven-chat/haven/internal/therapist"
	"github.com/haven-chat/haven/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// runServe wires the full server and blocks until SIGINT or SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	st := store.New(db, logger.With("component", "store"))

	g, err := therapist.InitGenkit(ctx)
	if err != nil {
		return fmt.Errorf("initializing completion provider: %w", err)
	}
	gen, err := therapist.New(therapist.Config{
		Genkit:    g,
		ModelName: cfg.ModelName,
		Logger:    logger.With("component", "therapist"),
		Limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		Timeout:   cfg.GenerationTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating therapist: %w", err)
	}

	reg := registry.New(logger.With("component", "registry"))

	svc, err := chat.New(chat.Config{
		Store:         st,
		Registry:      reg,
		Generator:     gen,
		Logger:        logger.With("component", "chat"),
		HistoryWindow: cfg.HistoryWindow,
	})
	if err != nil {
		return fmt.Errorf("creating chat service: %w", err)
	}

	apiSrv, err := api.NewServer(api.Config{
		Logger:   logger.With("component", "api"),
		Store:    st,
		Chat:     svc,
		Registry: reg,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	ws.NewServer(reg, svc, logger.With("component", "ws")).RegisterRoutes(apiSrv.Mux())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "model", cfg.ModelName)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		<-errCh

		// Let in-flight replies reach a terminal state so no assistant
		// message is left pending in the database.
		svc.Wait()
		logger.Info("shutdown complete")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}
