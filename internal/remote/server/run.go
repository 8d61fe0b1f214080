package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kilupskalvis/refbridge/internal/config"
	"github.com/kilupskalvis/refbridge/internal/refservice"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Run listens on cfg.Listen and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	return Serve(ctx, ln, cfg, logger)
}

// Serve runs the ref service on ln until ctx is cancelled, then shuts the
// HTTP server down gracefully and closes every repository.
func Serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		ln.Close()
		return fmt.Errorf("invalid configuration: %w", err)
	}
	excluded, err := cfg.TagTypes()
	if err != nil {
		ln.Close()
		return fmt.Errorf("invalid configuration: %w", err)
	}

	repos, err := NewDiskRepos(cfg.ReposPath(), logger)
	if err != nil {
		ln.Close()
		return err
	}
	defer repos.CloseAll()
	repos.SetScanBatch(cfg.ChunkSize)

	tokens := NewFileTokenStore(cfg.TokensPath(), logger)
	if err := tokens.Load(); err != nil {
		ln.Close()
		return fmt.Errorf("load token store: %w", err)
	}

	svc := refservice.New(repos, refservice.Options{
		ChunkSize:        cfg.ChunkSize,
		ExcludedTagTypes: excluded,
		Logger:           logger,
	})

	srvCfg := &ServerConfig{
		MaxRequestBody:    cfg.MaxRequestBody,
		RequestsPerMinute: cfg.RequestsPerMinute,
		AdminToken:        cfg.AdminToken,
		Webhooks:          NewWebhookNotifier(&WebhookConfig{URLs: cfg.WebhookURLs}, logger),
	}
	if srvCfg.Webhooks != nil {
		logger.Info("webhooks configured", "count", len(cfg.WebhookURLs))
	}

	h, cleanup := Handler(svc, repos, tokens, srvCfg, logger)
	defer cleanup()

	srv := &http.Server{
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting refbridge-server", "listen", ln.Addr().String(), "data_dir", cfg.DataDir)
		var err error
		if cfg.TLSCert != "" {
			err = srv.ServeTLS(ln, cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
