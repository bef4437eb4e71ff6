// notedly serves the notes GraphQL API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/notedly/internal/api"
	"github.com/kuitang/notedly/internal/auth"
	"github.com/kuitang/notedly/internal/config"
	"github.com/kuitang/notedly/internal/db"
	"github.com/kuitang/notedly/internal/graph"
	"github.com/kuitang/notedly/internal/notes"
	"github.com/kuitang/notedly/internal/obs"
	"github.com/kuitang/notedly/internal/ratelimit"
	"github.com/kuitang/notedly/internal/store"
	"github.com/kuitang/notedly/internal/store/surreal"
)

func main() {
	dev, addr, storeFlag := config.ParseFlags()
	cfg := config.MustLoadConfig(dev, addr, storeFlag)

	obs.Init()
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	cfg.PrintStartupSummary()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Pkg("main").Error("server_exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := obs.Pkg("main")

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	handler, limiter, err := buildHandler(st, cfg)
	if err != nil {
		return err
	}
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", cfg.ListenAddr, "store", string(cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_shutting_down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore connects to the configured backend and applies its schema.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var st store.Store
	switch cfg.Store {
	case config.StoreSurrealDB:
		s, err := surreal.Open(ctx, surreal.Options{
			URL:       cfg.SurrealURL,
			Namespace: cfg.SurrealNamespace,
			Database:  cfg.SurrealDatabase,
			Username:  cfg.SurrealUser,
			Password:  cfg.SurrealPass,
		})
		if err != nil {
			return nil, fmt.Errorf("open surrealdb: %w", err)
		}
		st = s
	case config.StoreSQLite:
		s, err := db.Open(cfg.DatabasePath, cfg.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("open sqlcipher: %w", err)
		}
		st = s
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// buildHandler wires services, schema and HTTP pipeline over st.
func buildHandler(st store.Store, cfg *config.Config) (http.Handler, *ratelimit.RateLimiter, error) {
	hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, nil, err
	}
	users := auth.NewService(st, hasher, tokens)

	schema, err := graph.NewSchema(users, notes.NewService(st), graph.Limits{
		MaxDepth:      cfg.GraphQL.MaxDepth,
		Introspection: cfg.GraphQL.Introspection,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("parse schema: %w", err)
	}

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	h := api.NewHandler(schema, st, cfg.GraphQL.MaxCost)
	obs.Pkg("main").Debug("handler_built", "hasher", cfg.PasswordHasher, "max_depth", cfg.GraphQL.MaxDepth, "max_cost", cfg.GraphQL.MaxCost)
	return api.NewRouter(h, users, limiter, api.RouterOptions{AllowOrigin: cfg.CORSAllowOrigin}), limiter, nil
}
