package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/thinkmate"
	"github.com/MegaGrindStone/thinkmate/internal/handlers"
	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/MegaGrindStone/thinkmate/internal/services"
	"github.com/MegaGrindStone/thinkmate/internal/settings"
	"github.com/spf13/cobra"
)

var cfgFilePath string

const errLoggerKey = "error"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Chat with the language models on your own machine",
	Long: "ThinkMate is a chat client for a local language model server. Replies stream in as " +
		"they are generated, with code blocks highlighted, and every chat is saved to the history.",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFilePath, "config", "c", "",
		"Config file (default: $XDG_CONFIG_HOME/thinkmate/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// appConfig loads the config file and returns it with the directory the app keeps its files in.
func appConfig() (config, string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return config{}, "", fmt.Errorf("error getting user config dir: %w", err)
	}
	cfgDir = filepath.Join(cfgDir, appName)

	path := cfgFilePath
	if path == "" {
		path = filepath.Join(cfgDir, "config.yaml")
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return config{}, "", err
	}

	dir := cfg.dataDir(cfgDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return config{}, "", fmt.Errorf("error creating data directory: %w", err)
	}
	return cfg, dir, nil
}

func newLogger(cfg config) *slog.Logger {
	level, _ := cfg.logLevel()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, dir, err := appConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	store, err := cfg.openStore(dir, logger)
	if err != nil {
		return fmt.Errorf("error opening history store: %w", err)
	}
	defer store.Close()

	chats, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("error loading history: %w", err)
	}
	logger.Info("History loaded", slog.Int("chats", len(chats)), slog.String("store", cfg.Store))

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		return err
	}

	// The saver reports failures to the pages, which only exist once m is created below
	var m handlers.Main
	library := history.NewLibrary(chats)
	saver := history.NewSaver(store, library.List, logger, func(err error) {
		m.SaveFailed(err)
	})
	defer saver.Close()

	m, err = handlers.NewMain(llm, cfg.LLM.model(), library, saver, dir, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go services.Monitor(ctx, llm, cfg.MonitorInterval, logger, func(st services.Status) {
		m.SetStatus(st.Connected, st.Models)
	})
	if err := settings.Watch(ctx, dir, logger, m.SetSettings); err != nil {
		logger.Warn("Settings are not watched for changes", slog.String(errLoggerKey, err.Error()))
	}

	// Serve static files
	staticFS, err := fs.Sub(thinkmate.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/prompt", m.HandlePrompt)
	mux.HandleFunc("/chats/close", m.HandleClose)
	mux.HandleFunc("/chats/continue", m.HandleContinue)
	mux.HandleFunc("/history/open", m.HandleHistoryOpen)
	mux.HandleFunc("/history/delete", m.HandleHistoryDelete)
	mux.HandleFunc("/settings", m.HandleSettings)
	mux.HandleFunc("/sse", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The event streams never go idle, so they are closed before the server waits for connections
	sseClosed := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(sseClosed)
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr), slog.String("dataDir", dir))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		cancel()
		if shutdownErr := m.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, shutdownErr.Error()))
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))
		cancel()

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
		<-sseClosed
	}

	return nil
}
