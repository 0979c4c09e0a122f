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

	"github.com/joeshaw/envdecode"

	"github.com/mcpgate/mcpgate/bridge"
	"github.com/mcpgate/mcpgate/entra"
	"github.com/mcpgate/mcpgate/internal/logctx"
	"github.com/mcpgate/mcpgate/oauth"
	"github.com/mcpgate/mcpgate/oauth/redisstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpgate:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bridge.ConfigFromEnv()
	if err != nil {
		return err
	}

	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})})
	slog.SetDefault(log)

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	authOpts := []oauth.Option{oauth.WithLogger(log)}

	var callback *entra.Adapter
	if cfg.AuthAdapter == "federated" {
		var entraCfg entra.Config
		if err := envdecode.Decode(&entraCfg); err != nil {
			return fmt.Errorf("entra config: %w", err)
		}
		adapter, err := entra.New(ctx, entraCfg, store, entra.WithLogger(log))
		if err != nil {
			return err
		}
		callback = adapter
		authOpts = append(authOpts, oauth.WithAdapter(adapter))
	}

	auth, err := oauth.NewServer(oauth.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURIs: cfg.RedirectURIs(),
		BaseURL:      cfg.BaseURL,
	}, store, authOpts...)
	if err != nil {
		return err
	}

	bridgeOpts := []bridge.Option{bridge.WithLogger(log)}
	if callback != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithCallbackHandler(http.HandlerFunc(callback.HandleCallback)))
	}
	handler, err := bridge.New(cfg, auth, bridgeOpts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start", slog.String("addr", cfg.Addr()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("server.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildStore(cfg bridge.Config) (oauth.TokenStore, func(), error) {
	if os.Getenv("OAUTH_STORE") == "redis" {
		store, err := redisstore.NewFromEnv(cfg.TTLs())
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	return oauth.NewMemoryStore(cfg.TTLs()), func() {}, nil
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
