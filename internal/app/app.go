// Package app wires configuration, infrastructure, and the chat-completions
// handler into a running HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/duskrelay/chatproxy/internal/config"
	"github.com/duskrelay/chatproxy/internal/httpserver"
	"github.com/duskrelay/chatproxy/internal/platform"
	"github.com/duskrelay/chatproxy/internal/telemetry"
	"github.com/duskrelay/chatproxy/internal/version"
	"github.com/duskrelay/chatproxy/pkg/chatproxy"
	"github.com/duskrelay/chatproxy/pkg/cipher"
	"github.com/duskrelay/chatproxy/pkg/keypool"
	"github.com/duskrelay/chatproxy/pkg/proxycred"
	"github.com/duskrelay/chatproxy/pkg/ratelimit"
	"github.com/duskrelay/chatproxy/pkg/upstreamclient"
	"github.com/duskrelay/chatproxy/pkg/usage"
	"github.com/duskrelay/chatproxy/pkg/user"
)

// Run reads configuration, connects to infrastructure, and serves the proxy
// until ctx is canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting chatproxy", "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "chatproxy", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewRegistry()

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	keyCipher, err := cipher.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing key cipher: %w", err)
	}

	upstream, err := upstreamclient.New(upstreamclient.Config{
		Type:           cfg.UpstreamType,
		BaseURL:        cfg.UpstreamBaseURL,
		Endpoint:       cfg.Endpoint,
		Deployment:     cfg.Deployment,
		APIVersion:     cfg.APIVersion,
		ConnectTimeout: time.Duration(cfg.UpstreamConnectTimeout) * time.Second,
		RequestTimeout: time.Duration(cfg.UpstreamTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("initializing upstream client: %w", err)
	}

	handler := &chatproxy.Handler{
		Limiter: ratelimit.New(rdb, logger),
		Pool: keypool.New(
			keypool.NewStore(db),
			keyCipher,
			logger,
			cfg.CircuitBreakerFailureThreshold,
			time.Duration(cfg.CircuitBreakerCooldownSeconds)*time.Second,
		),
		Upstream:    upstream,
		Tracker:     usage.New(db),
		Credentials: proxycred.NewStore(db),
		Users:       user.NewStore(db),
		Limits: chatproxy.Limits{
			RPM:   int64(cfg.RateLimitRPM),
			TPM:   int64(cfg.RateLimitTPM),
			IPRPM: int64(cfg.RateLimitIPRPM),
			IPTPM: int64(cfg.RateLimitIPTPM),
		},
		UpstreamType:  keypool.CredentialType(cfg.UpstreamType),
		LogPromptBody: cfg.LogPromptBody,
		Logger:        logger,
	}

	srv.APIRouter.Mount("/", handler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.UpstreamTimeout+30) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}
}
