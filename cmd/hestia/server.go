package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/casaviva/hestia/internal/api"
	"github.com/casaviva/hestia/internal/backoff"
	"github.com/casaviva/hestia/internal/cascade"
	"github.com/casaviva/hestia/internal/config"
	"github.com/casaviva/hestia/internal/provider"
	"github.com/casaviva/hestia/internal/session"
	"github.com/casaviva/hestia/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hestia server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running hestia server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hestia system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "hestia.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "hestia version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("hestia is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("hestia is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Upstream client.
	client, err := provider.NewClient(cfg.Upstream.APIKey,
		provider.WithBaseURL(cfg.Upstream.BaseURL),
		provider.WithIdentity(cfg.Upstream.Referer, cfg.Upstream.Title),
		provider.WithCallTimeout(cfg.Cascade.AttemptTimeoutDuration()),
	)
	if err != nil {
		return fmt.Errorf("building upstream client: %w", err)
	}

	// Candidate source: pinned list from config, or the ranked live catalog.
	var source session.CandidateSource
	if pinned := cfg.Cascade.PinnedModels(); len(pinned) > 0 {
		slog.Info("using pinned cascade models", "models", pinned)
		source = session.StaticSource(pinned)
	} else {
		source = session.NewCatalogSource(client, cfg.Cascade.MaxModels)
	}

	runner := cascade.NewRunner(client,
		cascade.WithAttemptTimeout(cfg.Cascade.AttemptTimeoutDuration()),
		cascade.WithMaxRetries(cfg.Cascade.MaxRetries),
		cascade.WithBackoff(backoff.Policy{Initial: cfg.Cascade.InitialBackoffDuration(), Factor: 2}),
	)

	sessions := session.NewManager(func() *session.Session {
		return session.New(source, runner, session.WithSystemPrompt(cfg.Cascade.SystemPrompt))
	})

	if cfg.API.Token == "" {
		slog.Warn("no API token configured; exchange log endpoint disabled")
	}

	handler := api.NewHandler(api.Deps{
		Lister:    client,
		Sessions:  sessions,
		Store:     store,
		MaxModels: cfg.Cascade.MaxModels,
		APIToken:  cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Sessions:  sessions,
		Lister:    client,
		Store:     store,
		MaxModels: cfg.Cascade.MaxModels,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "hestia listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("hestia is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop hestia (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to hestia (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Upstream", "%s", cfg.Upstream.BaseURL)
	if pinned := cfg.Cascade.PinnedModels(); len(pinned) > 0 {
		printStatus("Cascade", "pinned: %s", strings.Join(pinned, ", "))
	} else {
		printStatus("Cascade", "live catalog, top %d", cfg.Cascade.MaxModels)
	}
	printStatus("Attempt timeout", "%s", cfg.Cascade.AttemptTimeoutDuration())
	printStatus("Max retries", "%d", cfg.Cascade.MaxRetries)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
