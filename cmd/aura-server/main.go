package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aura/internal/auth"
	"aura/internal/config"
	"aura/internal/foundry"
	"aura/internal/httpapi"
	"aura/internal/hub"
	"aura/internal/llmgate"
	"aura/internal/logging"
	"aura/internal/missioncontrol"
	"aura/internal/rag"
	"aura/internal/session"
	"aura/internal/store"
)

const embedderCacheSize = 4096

func main() {
	root := &cobra.Command{
		Use:   "aura-server",
		Short: "Aura multi-user agent backend",
		Long: "aura-server runs the Aura backend: REST and websocket API, " +
			"per-user project workspaces, and the autonomous mission agents. " +
			"All configuration comes from the environment.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("starting Aura server...")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabaseURL, cfg.EncryptionKey, logging.NewComponentLogger("Store"))
	if err != nil {
		return err
	}
	defer db.Close()

	tokens := auth.NewTokenService(cfg.JWTSecretKey, cfg.AccessTokenExpireMinutes)
	deck := hub.New(logging.NewComponentLogger("Hub"))
	control := missioncontrol.New()
	streamer := llmgate.NewStreamer(cfg.LLMServerURL, logging.NewComponentLogger("LLMGate"))

	registry, err := foundry.NewRegistry(logging.NewComponentLogger("Foundry"))
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	embedder, err := rag.NewHashEmbedder(embedderCacheSize)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}

	sessions := session.NewFactory(db, streamer, deck, control, registry, embedder,
		cfg.WorkspacesRoot, logging.NewComponentLogger("Session"))

	server := httpapi.NewServer(cfg, db, tokens, deck, control, sessions,
		logging.NewComponentLogger("HTTP"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Router(),
		// Agent endpoints stream for minutes over the websocket; only reads
		// get a hard timeout here.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("received %s, shutting down...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
