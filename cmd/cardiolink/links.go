package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"cardiolink/internal/config"
	"cardiolink/internal/links"
	"cardiolink/internal/logging"
	"cardiolink/internal/objectstore"
	"cardiolink/internal/session"
	"cardiolink/internal/storage"
)

func newLinksCommand(ctx *commandContext) *cobra.Command {
	linksCmd := &cobra.Command{
		Use:   "links",
		Short: "Manage published patient links",
	}

	linksCmd.AddCommand(newLinksListCommand(ctx))
	linksCmd.AddCommand(newLinksShowCommand(ctx))
	linksCmd.AddCommand(newLinksCheckCommand(ctx))
	linksCmd.AddCommand(newLinksResolveCommand(ctx))
	linksCmd.AddCommand(newLinksReissueCommand(ctx))
	linksCmd.AddCommand(newLinksDeactivateCommand(ctx))

	return linksCmd
}

func newLinksListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published links, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				published, err := linkStore.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(published) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No links published.")
					return nil
				}

				rows := make([][]string, 0, len(published))
				for _, link := range published {
					rows = append(rows, []string{
						link.Token,
						link.DeviceID,
						link.RecordingDate.Format("2006-01-02"),
						yesNo(link.Active),
						strconv.FormatInt(link.ViewCount, 10),
						link.CreatedAt.Local().Format(displayTimeLayout),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Token", "Device", "Date", "Active", "Views", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum links to list")
	return cmd
}

func newLinksShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <token>",
		Short: "Show one link including its storage references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				link, err := linkStore.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Token:     %s\n", link.Token)
				fmt.Fprintf(out, "Device:    %s\n", link.DeviceID)
				fmt.Fprintf(out, "Date:      %s\n", link.RecordingDate.Format("2006-01-02"))
				fmt.Fprintf(out, "Window:    %s - %s\n",
					link.StartTime.Local().Format(displayTimeLayout),
					link.EndTime.Local().Format(displayTimeLayout))
				fmt.Fprintf(out, "Folder:    %s\n", link.OutputFolder)
				fmt.Fprintf(out, "Active:    %s\n", yesNo(link.Active))
				fmt.Fprintf(out, "Views:     %d\n", link.ViewCount)
				if link.LastViewedAt != nil {
					fmt.Fprintf(out, "Last view: %s\n", link.LastViewedAt.Local().Format(displayTimeLayout))
				}
				fmt.Fprintf(out, "Created:   %s\n", link.CreatedAt.Local().Format(displayTimeLayout))
				for _, ref := range link.StorageRefs {
					fmt.Fprintf(out, "  [%s] %s\n", ref.Kind, ref.Location)
				}
				return nil
			})
		},
	}
}

func newLinksResolveCommand(ctx *commandContext) *cobra.Command {
	var track bool
	var outputPath string

	cmd := &cobra.Command{
		Use:   "resolve <token>",
		Short: "Resolve a link's primary recording artifact",
		Long: `Resolve looks up an active link by its token, locates the primary
recording artifact behind it, and writes the artifact to stdout or to
--output. With --track the access is counted as a patient view.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				cmdCtx := cmd.Context()
				link, err := linkStore.Resolve(cmdCtx, args[0], track)
				if err != nil {
					return err
				}

				var remote *objectstore.Client
				if cfg.Remote.Enabled {
					client, err := objectstore.New(cfg, logging.NewNop())
					if err != nil && !errors.Is(err, objectstore.ErrDisabled) {
						return fmt.Errorf("init object store client: %w", err)
					}
					remote = client
				}
				resolver := storage.NewResolver(cfg, remote, logging.NewNop())

				reader, location, err := resolver.Locate(cmdCtx, link)
				if err != nil {
					return err
				}
				defer reader.Close()

				if outputPath == "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Resolved %s\n", location)
					_, err := io.Copy(cmd.OutOrStdout(), reader)
					return err
				}

				target, err := config.ExpandPath(outputPath)
				if err != nil {
					return fmt.Errorf("resolve output path: %w", err)
				}
				file, err := os.Create(target)
				if err != nil {
					return fmt.Errorf("create %s: %w", target, err)
				}
				defer file.Close()
				if _, err := io.Copy(file, reader); err != nil {
					return fmt.Errorf("write %s: %w", target, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s -> %s\n", location, target)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&track, "track", false, "Count this access as a patient view")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the artifact to a file instead of stdout")
	return cmd
}

func newLinksCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <token>",
		Short: "Check whether a token resolves to an active link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				valid, err := linkStore.Validate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !valid {
					fmt.Fprintln(cmd.OutOrStdout(), "Token not valid.")
					return errors.New("token not valid")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token valid.")
				return nil
			})
		},
	}
}

func newLinksReissueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reissue <token>",
		Short: "Mint a replacement token for an existing link",
		Long: `Reissue mints a fresh token carrying the same device, window, and
storage references as the given link. The old token stays active until
deactivated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				existing, err := linkStore.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				replacement, err := linkStore.Reissue(cmd.Context(), links.NewLink{
					DeviceID:      existing.DeviceID,
					RecordingDate: existing.RecordingDate,
					StartTime:     existing.StartTime,
					EndTime:       existing.EndTime,
					OutputFolder:  existing.OutputFolder,
					StorageRefs:   existing.StorageRefs,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reissued link for %s on %s: %s\n",
					replacement.DeviceID, replacement.RecordingDate.Format("2006-01-02"), replacement.Token)
				return nil
			})
		},
	}
}

func newLinksDeactivateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <token>",
		Short: "Deactivate a link so the token stops resolving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				changed, err := linkStore.Deactivate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if changed {
					fmt.Fprintf(cmd.OutOrStdout(), "Link %s deactivated.\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Link %s was already inactive.\n", args[0])
				}
				return nil
			})
		},
	}
}
