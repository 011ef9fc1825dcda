package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chatwidget "github.com/MegaGrindStone/chat-widget"
	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/services"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may be set by other means.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(fmt.Errorf("error loading .env file: %w", err))
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "chatwidget")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := openConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	level, err := cfg.level()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	dbPath := cfg.StorePath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening store: %w", err))
	}
	defer boltDB.Close()

	newBackend := func() (widget.Backend, error) {
		return services.NewBackend(cfg.BackendURL, cfg.RequestTimeout, logger)
	}

	m, err := handlers.NewMain(newBackend, boltDB, models.NewMarkdownRenderer(cfg.Sanitize), handlers.Options{
		Elements:        cfg.Elements,
		QuickReplies:    cfg.QuickReplies,
		EventsPerMinute: cfg.EventsPerMinute,
		EventBurst:      cfg.EventBurst,
		IdleTimeout:     cfg.SessionIdleTimeout,
	}, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating handlers: %w", err))
	}

	staticFS, err := fs.Sub(chatwidget.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           m.Router(staticFS),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// widgetsDone is closed once every widget session has finished, so the store outlives their writes.
	widgetsDone := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(widgetsDone)
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown widgets", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("backend", cfg.BackendURL))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown widgets", slog.String("err", err.Error()))
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}

		select {
		case <-widgetsDone:
		case <-ctx.Done():
			logger.Error("Widgets did not shut down in time")
		}
	}
}

// openConfig loads the config file at path. A missing file yields the defaults.
func openConfig(path string) (config, error) {
	var r io.Reader

	cfgFile, err := os.Open(path)
	switch {
	case err == nil:
		defer cfgFile.Close()
		r = cfgFile
	case !errors.Is(err, fs.ErrNotExist):
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	return loadConfig(r)
}
