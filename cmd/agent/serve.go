package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freevideocut/cutagent/internal/api"
	"github.com/freevideocut/cutagent/internal/catalog"
	"github.com/freevideocut/cutagent/internal/config"
	"github.com/freevideocut/cutagent/internal/db"
	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/logging"
	"github.com/freevideocut/cutagent/internal/playback"
	"github.com/freevideocut/cutagent/internal/synthesis"
	"github.com/freevideocut/cutagent/internal/track"
	"github.com/freevideocut/cutagent/internal/transcoder"
	"github.com/freevideocut/cutagent/internal/ui"
	"github.com/freevideocut/cutagent/internal/workspace"
)

const (
	shutdownTimeout = 10 * time.Second
	jobDrainTimeout = 30 * time.Second
)

type serveOptions struct {
	headless bool
}

func newServeCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent and its local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Run without the system tray")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot(), 0755); err != nil {
		return fmt.Errorf("failed to create workspace root: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting cut agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"workspace_root", logging.SanitizePath(cfg.WorkspaceRoot()),
	)
	if cfg.File() != "" {
		logger.Info("loaded config file", "path", logging.SanitizePath(cfg.File()))
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	printBanner(cfg.Port(), authToken)

	tc, err := transcoder.New(transcoder.Config{
		FFmpegPath:        cfg.FFmpegPath(),
		FFprobePath:       cfg.FFprobePath(),
		BinDir:            cfg.BinDir(),
		ThumbnailInterval: cfg.ThumbnailInterval(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to locate ffmpeg: %w", err)
	}

	versionCtx, versionCancel := context.WithTimeout(ctx, 5*time.Second)
	ffmpegVersion, err := tc.Version(versionCtx)
	versionCancel()
	if err != nil {
		logger.Warn("ffmpeg version probe failed", "error", err)
	}

	dispatcher := jobs.New(logger)
	catalog.NewRecorder(repo, logger).Attach(dispatcher)

	layout := workspace.NewLayout(cfg.WorkspaceRoot())
	ids := workspace.NewIDs()
	manager := workspace.NewManager(layout, ids, logger)
	engine := track.NewEngine(layout, ids, tc, dispatcher, logger)
	synth := synthesis.NewPipeline(layout, ids, tc, dispatcher, engine, logger)
	svc := catalog.NewService(repo, manager, engine, synth, logger)
	media := playback.NewServer(layout, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Service:       svc,
		Media:         media,
		Repository:    repo,
		Jobs:          dispatcher,
		Logger:        logger,
		StartTime:     startTime,
		FFmpegVersion: ffmpegVersion,
	})

	if err := apiServer.Listen(); err != nil {
		return err
	}

	quitCh := make(chan struct{})
	serveErr := make(chan error, 1)

	go func() {
		if err := apiServer.Serve(); err != nil {
			logger.Error("HTTP server error", "error", err)
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var tray *ui.Tray
	if cfg.Headless() || opts.headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Jobs:   dispatcher,
			Tasks:  svc,
			Port:   cfg.Port(),
			Logger: logger,
			OnQuit: func() { close(quitCh) },
		})
		go tray.Run()
	}

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		if tray != nil {
			tray.Quit()
		}
	case <-quitCh:
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	logger.Info("initiating graceful shutdown")
	shutdown(apiServer, dispatcher, logger)
	logger.Info("shutdown complete")
	return runErr
}

// shutdown stops the HTTP server, then waits up to jobDrainTimeout for
// background jobs.
func shutdown(apiServer *api.Server, d *jobs.Dispatcher, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	d.Close()
	if n := len(d.Active()); n > 0 {
		logger.Info("waiting for background jobs", "count", n)
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), jobDrainTimeout)
	defer drainCancel()
	if err := d.Wait(drainCtx); err != nil {
		logger.Warn("background jobs still running at exit", "count", len(d.Active()))
	}
}

func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, catalog.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, catalog.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}
	return token, nil
}

func printBanner(port int, token string) {
	fmt.Println()
	fmt.Println(renderKeyValues("CUTAGENT v"+config.Version, [][2]string{
		{"API URL", fmt.Sprintf("http://127.0.0.1:%d", port)},
		{"Auth Token", token},
	}))
	fmt.Println()
}
