package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reeler/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(status.QueueStats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(listStatuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Title", "Status", "Created"},
					buildQueueListRows(resp.Jobs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <jobID>",
		Short: "Show details for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDescribe(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				job := resp.Job
				fmt.Fprintf(out, "Job:       %s\n", job.ID)
				if job.Title != "" {
					fmt.Fprintf(out, "Title:     %s\n", job.Title)
				}
				fmt.Fprintf(out, "Status:    %s\n", formatStatusLabel(job.Status, job.StatusLabel))
				if job.RunID != "" {
					fmt.Fprintf(out, "Run:       %s\n", job.RunID)
				}
				for _, artifact := range []struct {
					label string
					ref   string
				}{
					{"Source", job.SourceRef},
					{"Script", job.ScriptRef},
					{"Audio", job.AudioRef},
					{"Video", job.VideoRef},
					{"Publish", job.PublishRef},
				} {
					if artifact.ref != "" {
						fmt.Fprintf(out, "%-10s %s\n", artifact.label+":", artifact.ref)
					}
				}
				if job.Cursor != "" {
					fmt.Fprintf(out, "Cursor:    %s\n", job.Cursor)
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
					if job.FailedState != "" {
						fmt.Fprintf(out, "Failed in: %s\n", formatStatusLabel(job.FailedState, ""))
					}
				}
				fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt)
				if job.CompletedAt != "" {
					fmt.Fprintf(out, "Completed: %s\n", job.CompletedAt)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [jobID...]",
		Short: "Retry failed jobs",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				ids := make([]string, 0, len(args))
				for _, arg := range args {
					if trimmed := strings.TrimSpace(arg); trimmed != "" {
						ids = append(ids, trimmed)
					}
				}
				resp, err := client.QueueRetry(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d failed jobs\n", resp.Updated)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear(!clearAll)
				if err != nil {
					return err
				}
				if clearAll {
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d queue jobs\n", resp.Removed)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d finished jobs\n", resp.Removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every job, including unfinished work")
	return cmd
}
