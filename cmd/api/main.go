package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity.org/internal/audit"
	"identity.org/internal/config"
	"identity.org/internal/httpapi"
	"identity.org/internal/identity"
	"identity.org/internal/obs"
	"identity.org/internal/store/memory"
	"identity.org/internal/store/pg"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := obs.Logger()
		logger.Fatal().Err(err).Msg("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	log := obs.Logger()

	var (
		store identity.Store
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		defer pgStore.Close()
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Warn().Msg("IDENTITY_PG_DSN is empty, using in-memory store; all state is lost on restart")
		store = memory.New()
	}

	ctx := context.Background()
	home, err := ensureHomeService(ctx, store, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("service", cfg.ServiceName).Msg("bootstrap home service")
	}

	policy := identity.DefaultPasswordPolicy()
	recorder := audit.Recorder()
	lockout := identity.NewLockout(store, identity.LockoutConfig{
		MaxAttempts: cfg.MaxLoginAttempts,
		Duration:    cfg.LockoutDuration,
	}, identity.WithLockoutRecorder(func(ctx context.Context, event string, fields map[string]any) {
		if event == "account.locked" {
			obs.RecordAccountLockout()
		}
		recorder(ctx, event, fields)
	}))
	auth := identity.NewAuthenticator(store, lockout, policy,
		identity.WithAuthRecorder(recorder))
	tokens, err := identity.NewTokenService(store, identity.TokenConfig{
		Secret:    cfg.TokenSecret,
		Algorithm: cfg.TokenAlgorithm,
		TTL:       cfg.TokenTTL,
		Issuer:    cfg.TokenIssuer,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("token service")
	}
	users, err := identity.NewUsers(store, policy, home.ID, cfg.DefaultRole)
	if err != nil {
		log.Fatal().Err(err).Msg("users service")
	}
	resolver, err := identity.NewResolver(store)
	if err != nil {
		log.Fatal().Err(err).Msg("resolver")
	}
	gate, err := identity.NewGate(resolver, home.ID, home.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("gate")
	}

	api := httpapi.New(httpapi.Deps{
		Ready:         httpapi.ReadyProbe{DB: db},
		Version:       version,
		Store:         store,
		Tokens:        tokens,
		Auth:          auth,
		Users:         users,
		Resolver:      resolver,
		Gate:          gate,
		TokenTTL:      cfg.TokenTTL,
		RateBurst:     cfg.RateBurst,
		RatePerSecond: cfg.RatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting identity-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("stopped")
}

// ensureHomeService looks up the deployment's own RBAC scope and creates it,
// together with the admin and default roles, when the store is empty. The
// Postgres path is normally seeded by cmd/migrate; this keeps the in-memory
// dev mode usable out of the box.
func ensureHomeService(ctx context.Context, store identity.Store, cfg config.Config) (*identity.Service, error) {
	home, err := store.GetServiceByName(ctx, cfg.ServiceName)
	if err == nil {
		return home, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	home = &identity.Service{Name: cfg.ServiceName, Description: "identity service itself", Active: true}
	if err := store.CreateService(ctx, home); err != nil {
		return nil, err
	}
	for _, name := range []string{"admin", cfg.DefaultRole} {
		role := &identity.Role{ServiceID: home.ID, Name: name, Active: true}
		if err := store.CreateRole(ctx, role); err != nil && !errors.Is(err, identity.ErrConflict) {
			return nil, err
		}
	}
	return home, nil
}
