package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/oracle/internal/api"
	"github.com/hyperengineering/oracle/internal/auth"
	"github.com/hyperengineering/oracle/internal/chat"
	"github.com/hyperengineering/oracle/internal/config"
	"github.com/hyperengineering/oracle/internal/embedding"
	"github.com/hyperengineering/oracle/internal/importer"
	"github.com/hyperengineering/oracle/internal/safety"
	"github.com/hyperengineering/oracle/internal/storage"
	"github.com/hyperengineering/oracle/internal/store"
	"github.com/hyperengineering/oracle/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var dbPathOverride string

var rootCmd = &cobra.Command{
	Use:           "oracle",
	Short:         "Oracle - card deck and guided reflection service",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and ORACLE_DB_PATH)")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(deckCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	archiver, err := storage.NewArchiver(cfg.Storage)
	if err != nil {
		db.Close()
		return err
	}
	slog.Info("storage initialized", "bucket", cfg.Storage.Bucket)

	relay := chat.NewRelay(cfg.Chat.APIKey, cfg.Chat.BaseURL, cfg.Chat.Model)
	slog.Info("chat relay initialized", "model", relay.Model())

	var wg sync.WaitGroup
	deps := api.Deps{
		Store:    db,
		Importer: importer.New(db, archiver, cfg.Import.BatchSize),
		Filter:   safety.NewFilter(cfg.Safety.Keywords, cfg.Safety.HardSeverity),
		Relay:    relay,
		Images:   archiver,
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
	}

	if cfg.EmbeddingsEnabled() {
		embedder := embedding.NewOpenAI(cfg.Embedding.APIKey, "", cfg.Embedding.Model)
		deps.Embedder = embedder
		slog.Info("embedder initialized", "model", cfg.Embedding.Model)

		w := worker.NewEmbeddingWorker(db, embedder,
			time.Duration(cfg.Worker.EmbeddingInterval),
			cfg.Worker.EmbeddingMaxAttempts,
			cfg.Worker.EmbeddingBatchSize)
		startWorker(ctx, &wg, "embedding", w.Run)
	} else {
		slog.Warn("embeddings disabled, related cards will not be offered")
	}

	handler := api.NewHandler(deps, api.Options{
		APIKey:         cfg.Auth.APIKey,
		Version:        Version,
		AllowedOrigin:  cfg.Server.AllowedOrigin,
		RelatedCards:   cfg.Chat.RelatedCards,
		ImagePrefix:    cfg.Storage.ImagePrefix,
		Multiline:      cfg.Import.Multiline,
		MaxUploadBytes: cfg.Import.MaxUploadBytes,
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Server first so no request touches the store after it closes.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// loadConfig loads the service configuration and applies the --db override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPathOverride != "" {
		cfg.Database.Path = dbPathOverride
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
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

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
