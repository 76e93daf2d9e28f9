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

	"github.com/lbmoreira/onyx-sync/internal/cloud"
	"github.com/lbmoreira/onyx-sync/internal/config"
	"github.com/lbmoreira/onyx-sync/internal/identity"
	"github.com/lbmoreira/onyx-sync/internal/logging"
	"github.com/lbmoreira/onyx-sync/internal/server"
	"github.com/lbmoreira/onyx-sync/internal/store"
	syncer "github.com/lbmoreira/onyx-sync/internal/sync"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogFile)
	logger.Info("onyx-sync starting",
		slog.String("version", Version),
		slog.String("data_dir", cfg.DataDir),
		slog.Duration("sync_interval", cfg.SyncInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	local, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer local.Close()

	if err := local.EnsureDefaults(); err != nil {
		return fmt.Errorf("seeding defaults: %w", err)
	}

	client := cloud.NewClient(cfg.APIBaseURL, nil)
	session := identity.NewSession()

	engine := syncer.NewEngine(local, client, logger)
	orch := syncer.NewOrchestrator(engine, local, session, logger)
	runner := syncer.NewRunner(local, client, logger)

	// Migration runs on every sign-in transition, before the first sync
	// session; the remote flag makes it a no-op after the first run.
	session.OnChange(func(ownerID string, signedIn bool) {
		if !signedIn {
			return
		}

		if err := runner.Migrate(ctx, ownerID); err != nil {
			logger.Warn("migration failed, will retry next sign-in",
				slog.String("error", err.Error()),
			)

			return
		}

		summary := orch.SyncAll(ctx)
		logger.Info("post-login sync",
			slog.Bool("success", summary.Success),
			slog.String("message", summary.Message),
		)
	})

	owner, err := authenticate(ctx, client, cfg, local, logger)
	if err != nil {
		return err
	}

	session.SignIn(owner)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runTriggerServer(gctx, cfg, orch, local, session, logger)
	})

	if cfg.SyncInterval > 0 {
		g.Go(func() error {
			return runSyncTimer(gctx, cfg.SyncInterval, orch, logger)
		})
	}

	return g.Wait()
}

// authenticate signs in, preferring a cached token over a fresh
// email/password signin. Returns the owner id.
func authenticate(ctx context.Context, client *cloud.Client, cfg *config.Config, local *store.Store, logger *slog.Logger) (string, error) {
	if token := local.Token(); token != "" {
		logger.Debug("trying cached token")
		client.SetToken(token)

		owner, err := client.Whoami(ctx)
		if err == nil {
			logger.Info("authenticated with cached token", slog.String("owner", owner))
			return owner, nil
		}

		logger.Debug("cached token rejected, signing in fresh")
		client.SetToken("")
	}

	logger.Info("signing in", slog.String("email", cfg.Email))

	resp, err := client.Signin(ctx, cfg.Email, cfg.Password, cfg.DeviceName)
	if err != nil {
		return "", fmt.Errorf("signing in: %w", err)
	}

	if err := local.SetToken(resp.Token); err != nil {
		logger.Warn("failed to cache token", slog.String("error", err.Error()))
	}

	logger.Info("signed in", slog.String("owner", resp.UserID), slog.String("email", resp.Email))

	return resp.UserID, nil
}

// runSyncTimer triggers a sync session every interval until the
// context is cancelled.
func runSyncTimer(ctx context.Context, interval time.Duration, orch *syncer.Orchestrator, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary := orch.SyncAll(ctx)
			if !summary.Success {
				logger.Warn("scheduled sync failed", slog.String("message", summary.Message))
				continue
			}

			logger.Debug("scheduled sync complete", slog.Int64("watermark", summary.SyncedAt))
		}
	}
}

// runTriggerServer serves the local sync trigger endpoint until the
// context is cancelled.
func runTriggerServer(ctx context.Context, cfg *config.Config, orch *syncer.Orchestrator, local *store.Store, provider identity.Provider, logger *slog.Logger) error {
	mux := server.NewMux(server.MuxConfig{
		Orchestrator: orch,
		Store:        local,
		Provider:     provider,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("trigger endpoint listening", slog.String("addr", cfg.ListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down trigger endpoint")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("trigger server error: %w", err)
	}

	return nil
}
