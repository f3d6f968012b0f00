package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reeler/internal/broker"
	"reeler/internal/config"
	"reeler/internal/daemon"
	"reeler/internal/ipc"
	"reeler/internal/logging"
	"reeler/internal/notifications"
	"reeler/internal/preflight"
	"reeler/internal/queue"
	"reeler/internal/quota"
	"reeler/internal/services/stageclient"
	"reeler/internal/stage"
	"reeler/internal/workers"
	"reeler/internal/workflow"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:          "daemon",
		Short:        "Run the reeler daemon in the foreground (internal)",
		Hidden:       true,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "reeler.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	fetcher, scripter, voicer := buildStageClients(cfg)
	reportPreflight(signalCtx, cfg, logger, fetcher, scripter, voicer)

	brk := broker.New(store, broker.Timing{
		HeartbeatTimeout: seconds(cfg.Workers.HeartbeatTimeout),
		HardTimeout:      seconds(cfg.Workers.HardTimeout),
		PollInterval:     seconds(cfg.Workers.AwaitPollInterval),
	}, logger)

	manager := workers.NewManager(brk, buildLaunchers(cfg, logger), workers.Policy{
		LaunchAttempts: cfg.Workers.LaunchAttempts,
		RetryBackoff:   seconds(cfg.Workers.RetryBackoff),
	}, logger)

	gate := quota.New(store, cfg.Quota.DailyLimit, cfg.QuotaLocation(), logger)
	notifier := notifications.NewService(cfg, logger)

	orch := workflow.NewOrchestrator(store, fetcher, scripter, voicer, manager, workflow.Timing{
		StageTimeout: seconds(cfg.Workflow.StageTimeout),
		RetryLimit:   cfg.Workflow.StageRetryLimit,
		RetryBackoff: seconds(cfg.Workflow.StageRetryBackoff),
	}, notifier, logger)
	controller := workflow.NewLoopController(store, orch, gate, notifier, logger)

	d, err := daemon.New(daemon.Deps{
		Config:     cfg,
		Store:      store,
		Controller: controller,
		Broker:     brk,
		Gate:       gate,
		Notifier:   notifier,
		Invokers:   []stage.Invoker{fetcher, scripter, voicer},
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := ctx.socketPath()
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start", logging.Error(err))
	}

	<-signalCtx.Done()
	logger.Info("reeler daemon shutting down")
	return nil
}

func buildStageClients(cfg *config.Config) (*stageclient.Fetcher, *stageclient.Client, *stageclient.Client) {
	timeout := seconds(cfg.Stages.RequestTimeout)
	fetcher := stageclient.NewFetcher(stageclient.Config{
		BaseURL: cfg.Stages.FetcherURL,
		APIKey:  cfg.Stages.APIKey,
		Timeout: timeout,
	})
	scripter := stageclient.NewScripter(stageclient.Config{
		BaseURL: cfg.Stages.ScripterURL,
		APIKey:  cfg.Stages.APIKey,
		Timeout: timeout,
	})
	voicer := stageclient.NewVoicer(stageclient.Config{
		BaseURL: cfg.Stages.VoicerURL,
		APIKey:  cfg.Stages.APIKey,
		Timeout: timeout,
	})
	return fetcher, scripter, voicer
}

func buildLaunchers(cfg *config.Config, logger *slog.Logger) map[queue.Status]workers.Launcher {
	callbackURL := "http://" + cfg.Paths.APIBind
	launchers := make(map[queue.Status]workers.Launcher, 2)
	if launcher, err := workers.NewCommandLauncher(cfg.Workers.RenderCommand, callbackURL, cfg.Paths.StagingDir); err == nil {
		launchers[queue.StatusRendering] = launcher
	} else {
		logger.Warn("render worker launcher unavailable", logging.Error(err))
	}
	if launcher, err := workers.NewCommandLauncher(cfg.Workers.UploadCommand, callbackURL, cfg.Paths.StagingDir); err == nil {
		launchers[queue.StatusUploading] = launcher
	} else {
		logger.Warn("upload worker launcher unavailable", logging.Error(err))
	}
	return launchers
}

func reportPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger, invokers ...stage.Invoker) {
	results := preflight.RunAll(ctx, cfg, invokers...)
	for _, result := range results {
		if result.Passed {
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail))
	}
	if preflight.AllPassed(results) {
		logger.Info("preflight checks passed", logging.Int("check_count", len(results)))
	}
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
