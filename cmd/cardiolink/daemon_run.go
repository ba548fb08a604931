package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cardiolink/internal/batch"
	"cardiolink/internal/config"
	"cardiolink/internal/daemon"
	"cardiolink/internal/links"
	"cardiolink/internal/logging"
	"cardiolink/internal/notifications"
	"cardiolink/internal/objectstore"
	"cardiolink/internal/session"
	"cardiolink/internal/storage"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the intake daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}

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

	sessionStore, err := session.Open(cfg)
	if err != nil {
		logger.Error("open session store", logging.Error(err))
		return err
	}
	defer sessionStore.Close()

	linkStore, err := links.Open(cfg)
	if err != nil {
		logger.Error("open link store", logging.Error(err))
		return err
	}
	defer linkStore.Close()

	processor, manager, err := buildProcessor(cfg, sessionStore, linkStore, logger)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, manager, processor, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	logger.Info("cardiolink daemon started",
		slog.String("incoming_dir", cfg.Paths.IncomingDir),
		slog.String("log_file", d.LogPath()))

	<-signalCtx.Done()
	logger.Info("cardiolink daemon shutting down")
	d.Stop()
	return nil
}

// buildProcessor assembles the processing pipeline shared by the daemon
// and the one-shot process command.
func buildProcessor(cfg *config.Config, sessionStore *session.Store, linkStore *links.Store, logger *slog.Logger) (*batch.Processor, *session.Manager, error) {
	manager := session.NewManager(cfg, sessionStore, linkStore, logger)

	var remote *objectstore.Client
	if cfg.Remote.Enabled {
		client, err := objectstore.New(cfg, logger)
		if err != nil && !errors.Is(err, objectstore.ErrDisabled) {
			return nil, nil, fmt.Errorf("init object store client: %w", err)
		}
		remote = client
	}

	resolver := storage.NewResolver(cfg, remote, logger)
	notifier := notifications.NewService(cfg)
	processor := batch.New(cfg, manager, linkStore, resolver, remote, notifier, logger)
	return processor, manager, nil
}
