package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/picsort/renamer/internal/analyzer"
	"github.com/picsort/renamer/internal/archiver"
	"github.com/picsort/renamer/internal/config"
	"github.com/picsort/renamer/internal/gemini"
	"github.com/picsort/renamer/internal/handlers"
	"github.com/picsort/renamer/internal/imagestore"
	"github.com/picsort/renamer/internal/ollama"
	"github.com/picsort/renamer/internal/openai"
	"github.com/picsort/renamer/internal/providers"
	"github.com/picsort/renamer/internal/renamer"
	"github.com/picsort/renamer/internal/renaming"
	"github.com/picsort/renamer/internal/storage"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the image renaming service",
		Long: `Starts the renamer API on the configured address.

Clients upload a batch of images, trigger AI analysis for name suggestions,
commit renames and download the renamed batch as a ZIP archive.`,
		Example: `  # Start with defaults (:8888, gemini)
  renamer serve

  # Start with an explicit config file
  renamer serve --config ./config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			provider, err := newProvider(cfg.Analysis.Provider)
			if err != nil {
				return err
			}

			files, err := imagestore.New(cfg.Storage.UploadDir)
			if err != nil {
				return err
			}
			sessions := storage.New(files, cfg.Session.TTL)
			service := renaming.NewService(
				sessions,
				files,
				analyzer.New(provider, files, cfg.Analysis.ModelOrDefault(), cfg.Analysis.Workers, cfg.Analysis.Timeout, cfg.Naming.MaxLength),
				renamer.NewEngine(files, cfg.Naming.MaxLength, cfg.Analysis.Workers),
				archiver.NewPackager(files),
			)

			sweepCtx, stopSweeper := context.WithCancel(context.Background())
			defer stopSweeper()
			service.StartSweeper(sweepCtx, cfg.Session.SweepInterval)

			handler := handlers.New(service, cfg.Upload.MaxFileBytes)

			// Set up routes
			mux := http.NewServeMux()
			mux.HandleFunc("/api/sessions", handler.HandleSessions)
			mux.HandleFunc("/api/sessions/", handler.HandleSessionDetail)
			mux.HandleFunc("/api/upload", handler.HandleUpload)
			mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("OK")); err != nil {
					slog.Error("Unable to write healthcheck", "err", err)
				}
			})

			server := &http.Server{
				Addr:    cfg.Server.Address,
				Handler: mux,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Renamer API available", "addr", cfg.Server.Address,
					"provider", cfg.Analysis.Provider, "model", cfg.Analysis.ModelOrDefault())
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}

func newProvider(name string) (providers.Provider, error) {
	switch name {
	case "gemini":
		return gemini.New(), nil
	case "ollama":
		return ollama.New(), nil
	case "openai":
		return openai.New(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
