package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reeler/internal/logging"
	"reeler/internal/queue"
	"reeler/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage job work directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job work directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			dirs, err := staging.ListDirectories(cfg.Paths.StagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}

			if jsonOut {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir": cfg.Paths.StagingDir,
					"directories": dirs,
				})
			}

			if len(dirs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No staging directories found")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Staging directory: %s\n\n", cfg.Paths.StagingDir)

			var totalSize int64
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				age := time.Since(dir.ModTime).Truncate(time.Minute)
				totalSize += dir.Size
				rows = append(rows, []string{
					shortJobID(dir.JobID),
					formatAge(age),
					logging.FormatBytes(dir.Size),
				})
			}

			table := renderTable(
				[]string{"Job", "Age", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			)
			fmt.Fprint(out, table)
			fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(dirs), logging.FormatBytes(totalSize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	return cmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool
	var staleHours int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove orphaned job work directories",
		Long: `Remove work directories not associated with any queue job.

By default, only removes directories whose job is no longer in the queue.
Use --all to remove every work directory, or --stale-hours to remove
directories older than the given age regardless of queue membership.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var result staging.CleanResult
			switch {
			case cleanAll:
				result = staging.CleanStale(cfg.Paths.StagingDir, 0, nil)
			case staleHours > 0:
				result = staging.CleanStale(cfg.Paths.StagingDir, time.Duration(staleHours)*time.Hour, nil)
			default:
				active, err := activeJobIDs(cmd.Context(), ctx)
				if err != nil {
					return err
				}
				result = staging.CleanOrphaned(cfg.Paths.StagingDir, active, nil)
			}

			out := cmd.OutOrStdout()
			if len(result.Removed) == 0 && len(result.Errors) == 0 {
				fmt.Fprintln(out, "No directories to clean")
				return nil
			}
			fmt.Fprintf(out, "Removed %d directories\n", len(result.Removed))
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove all work directories (including active jobs)")
	cmd.Flags().IntVar(&staleHours, "stale-hours", 0, "Remove directories older than this many hours")
	return cmd
}

// activeJobIDs collects ids of jobs currently in the queue, via the daemon
// when it is running, otherwise by opening the database directly.
func activeJobIDs(runCtx context.Context, ctx *commandContext) (map[string]struct{}, error) {
	if client, err := ctx.dialClient(); err == nil {
		defer client.Close()
		resp, err := client.QueueList(nil)
		if err != nil {
			return nil, fmt.Errorf("list queue jobs: %w", err)
		}
		active := make(map[string]struct{}, len(resp.Jobs))
		for _, job := range resp.Jobs {
			active[job.ID] = struct{}{}
		}
		return active, nil
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	defer store.Close()

	jobs, err := store.List(runCtx)
	if err != nil {
		return nil, fmt.Errorf("list queue jobs: %w", err)
	}
	active := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		active[job.ID] = struct{}{}
	}
	return active, nil
}

func formatAge(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
