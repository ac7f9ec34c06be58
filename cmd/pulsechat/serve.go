package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/HerbHall/pulsechat/internal/config"
	"github.com/HerbHall/pulsechat/internal/server"
	"github.com/HerbHall/pulsechat/internal/session"
	"github.com/HerbHall/pulsechat/internal/store"
	"github.com/HerbHall/pulsechat/internal/version"
	"github.com/HerbHall/pulsechat/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var errDatabaseNotConnected = errors.New("database not connected")

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("PulseChat server starting",
		zap.Any("build", version.Map()),
		zap.String("environment", cfg.Server.Env),
	)
	if cfg.Source != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", cfg.Source),
		)
	} else {
		logger.Info("no configuration file found, using defaults and environment",
			zap.String("component", "config"),
		)
	}

	// Resolved once, before the listener binds.
	resolution := newResolver(cfg, logger.Named("frontend")).Resolve()

	secret := cfg.Session.Secret
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		logger.Warn("using auto-generated session secret; set session.secret to accept tokens from the auth service",
			zap.String("component", "session"),
		)
	}
	tokens := session.NewTokenService([]byte(secret), session.DefaultTTL)

	hub := ws.NewHub(logger.Named("ws"))
	wsHandler := ws.NewHandler(hub, tokens, cfg.Session.CookieName, cfg.AllowedOrigins(), logger.Named("ws"))

	var db atomic.Pointer[store.SQLiteStore]
	ready := server.ReadinessChecker(func(ctx context.Context) error {
		s := db.Load()
		if s == nil {
			return errDatabaseNotConnected
		}
		return s.Ping(ctx)
	})

	srv, err := server.New(server.Options{
		Addr:           cfg.Addr(),
		Port:           cfg.Server.Port,
		Environment:    cfg.Server.Env,
		Production:     cfg.IsProduction(),
		Frontend:       resolution,
		Diagnostics:    cfg.Frontend.Diagnostics,
		AllowedOrigins: cfg.AllowedOrigins(),
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Ready:          ready,
		Groups: []server.RouteGroup{
			session.NewAuthGroup(cfg.Session.CookieName, cfg.IsProduction()),
			ws.NewMessagesGroup(hub),
		},
		Extra: []server.SimpleRouteRegistrar{wsHandler},
		Middleware: []server.Middleware{
			session.Middleware(tokens, cfg.Session.CookieName, logger.Named("session")),
		},
	}, logger.Named("server"))
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	ln, err := srv.Listen()
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	fmt.Fprintf(os.Stderr, "\n  PulseChat %s is listening on port %d (%s)\n\n",
		version.Short(), cfg.Server.Port, cfg.Server.Env)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The database connects after bind, matching the order the health
	// check relies on: /health answers while /readyz reports not ready.
	s, err := openStore(ctx, cfg.Database.Path, logger.Named("store"))
	if err != nil {
		logger.Error("database connection failed", zap.Error(err))
		shutdown(srv, hub, logger)
		return err
	}
	db.Store(s)
	defer s.Close()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	shutdown(srv, hub, logger)
	logger.Info("PulseChat server stopped")
	return nil
}

func openStore(ctx context.Context, path string, logger *zap.Logger) (*store.SQLiteStore, error) {
	s, err := store.New(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := s.CheckVersion(ctx, version.Short()); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("database connected",
		zap.String("component", "database"),
		zap.String("path", path),
	)
	return s, nil
}

func shutdown(srv *server.Server, hub *ws.Hub, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
