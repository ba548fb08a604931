package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"cardiolink/internal/config"
	"cardiolink/internal/links"
	"cardiolink/internal/logging"
	"cardiolink/internal/session"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <directory>",
		Short: "Process one directory of recordings as a batch session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve directory: %w", err)
			}
			info, err := os.Stat(source)
			if err != nil {
				return fmt.Errorf("stat %s: %w", source, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", source)
			}

			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				logger, err := logging.NewFromConfig(cfg)
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}

				processor, manager, err := buildProcessor(cfg, sessionStore, linkStore, logger)
				if err != nil {
					return err
				}

				cmdCtx := cmd.Context()
				sess, err := manager.Start(cmdCtx, source)
				if err != nil {
					return fmt.Errorf("start session: %w", err)
				}

				staged, err := stageDirectory(cmdCtx, manager, sess.ID, source)
				if err != nil {
					return err
				}
				if err := manager.OnUploadComplete(cmdCtx, sess.ID, staged); err != nil {
					return fmt.Errorf("finalize upload: %w", err)
				}

				status, err := processor.Run(cmdCtx, sess.ID)
				if err != nil {
					return err
				}

				final, err := sessionStore.Get(cmdCtx, sess.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s finished %s (%d/%d files)\n",
					sess.ID, status, final.ProcessedFiles, final.TotalFiles)
				if final.ErrorMessage != "" {
					fmt.Fprintf(out, "  error: %s\n", final.ErrorMessage)
				}
				if len(final.Outcomes) > 0 {
					fmt.Fprintln(out)
					printOutcomes(cmd, final.Outcomes)
				}
				if status != session.StatusCompleted {
					return fmt.Errorf("session ended %s", status)
				}
				return nil
			})
		},
	}
}

func stageDirectory(ctx context.Context, manager *session.Manager, sessionID, source string) (int, error) {
	entries, err := os.ReadDir(source)
	if err != nil {
		return 0, fmt.Errorf("read directory %s: %w", source, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	staged := 0
	for _, name := range names {
		file, err := os.Open(filepath.Join(source, name))
		if err != nil {
			return staged, fmt.Errorf("open %s: %w", name, err)
		}
		_, err = manager.OnFileReceived(ctx, sessionID, name, file)
		file.Close()
		if err != nil {
			return staged, fmt.Errorf("stage %s: %w", name, err)
		}
		staged++
	}
	return staged, nil
}
