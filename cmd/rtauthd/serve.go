package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greensec/rtauth"
	"github.com/greensec/rtauth/internal/userstore"
	"github.com/greensec/rtauth/password"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd(configFile *string) *cobra.Command {
	var hashAlgorithm string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP token service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, hashAlgorithm)
		},
	}
	registerServeFlags(cmd.Flags())
	cmd.Flags().StringVar(&hashAlgorithm, "hash", "bcrypt", "password hash for sign-up (bcrypt or argon2id)")
	return cmd
}

func runServe(ctx context.Context, cfg daemonConfig, hashAlgorithm string) error {
	logger, err := newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	hasher, err := password.New(hashAlgorithm)
	if err != nil {
		return err
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis-url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	users, err := userstore.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer users.Close()

	builder := rtauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithLogger(logger)
	if engineCfg.Audit.Enabled {
		builder.WithAuditSink(rtauth.NewSlogSink(logger.With("component", "audit"), slog.LevelInfo))
	}
	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	handler, err := newHandler(&server{
		engine: engine,
		users:  users,
		hasher: hasher,
		logger: logger,
		scheme: engineCfg.TokenScheme,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("rtauthd listening", "addr", cfg.Listen, "namespace", engineCfg.Namespace)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
