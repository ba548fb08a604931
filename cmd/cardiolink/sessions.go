package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cardiolink/internal/config"
	"cardiolink/internal/links"
	"cardiolink/internal/session"
)

const displayTimeLayout = "2006-01-02 15:04:05"

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect batch sessions",
	}

	sessionsCmd.AddCommand(newSessionsListCommand(ctx))
	sessionsCmd.AddCommand(newSessionsShowCommand(ctx))
	sessionsCmd.AddCommand(newSessionsCancelCommand(ctx))

	return sessionsCmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batch sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				sessions, err := sessionStore.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
					return nil
				}

				rows := make([][]string, 0, len(sessions))
				for _, sess := range sessions {
					rows = append(rows, []string{
						sess.ID,
						string(sess.Status),
						fmt.Sprintf("%d/%d", sess.ProcessedFiles, sess.TotalFiles),
						sess.StartedAt.Local().Format(displayTimeLayout),
						formatFinished(sess.FinishedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Session", "Status", "Files", "Started", "Finished"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")
	return cmd
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session with per-file outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				sess, err := sessionStore.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session:   %s\n", sess.ID)
				fmt.Fprintf(out, "Status:    %s\n", sess.Status)
				fmt.Fprintf(out, "Source:    %s\n", sess.Source)
				fmt.Fprintf(out, "Files:     %d/%d\n", sess.ProcessedFiles, sess.TotalFiles)
				fmt.Fprintf(out, "Started:   %s\n", sess.StartedAt.Local().Format(displayTimeLayout))
				fmt.Fprintf(out, "Finished:  %s\n", formatFinished(sess.FinishedAt))
				if sess.CurrentFile != "" && !sess.Status.Terminal() {
					fmt.Fprintf(out, "Current:   %s\n", sess.CurrentFile)
				}
				if sess.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", sess.ErrorMessage)
				}
				if len(sess.Outcomes) > 0 {
					fmt.Fprintln(out)
					printOutcomes(cmd, sess.Outcomes)
				}
				return nil
			})
		},
	}
}

func newSessionsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, linkStore *links.Store, sessionStore *session.Store) error {
				if err := sessionStore.Transition(cmd.Context(), args[0], session.StatusCancelled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s cancelled.\n", args[0])
				return nil
			})
		},
	}
}

func printOutcomes(cmd *cobra.Command, outcomes []session.FileOutcome) {
	rows := make([][]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		detail := outcome.Reason
		if outcome.Outcome == session.OutcomeSuccess {
			detail = outcome.Token
		}
		rows = append(rows, []string{
			outcome.Filename,
			string(outcome.Outcome),
			detail,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"File", "Outcome", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))
}

func formatFinished(finished *time.Time) string {
	if finished == nil {
		return "-"
	}
	return finished.Local().Format(displayTimeLayout)
}
