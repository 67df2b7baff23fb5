package cli

import (
	"fmt"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"github.com/spf13/cobra"
)

type kindStats struct {
	Kind domain.Kind `json:"kind"`
	queue.Counts
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [kind...]",
		Short: "Show job counts per queue",
		Long: `Show waiting, active, delayed, completed and failed counts.

Examples:
  queuectl stats                    # Every queue
  queuectl stats scrape             # One queue
  queuectl stats --json video-analysis image-analysis`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := kindArgs(args)
			if err != nil {
				return err
			}

			stats := make([]kindStats, 0, len(kinds))
			for _, kind := range kinds {
				counts, err := a.core.Queue.Stats(cmd.Context(), kind)
				if err != nil {
					return fmt.Errorf("stats %s: %w", kind, err)
				}
				stats = append(stats, kindStats{Kind: kind, Counts: counts})
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, stats)
			}

			fmt.Fprintf(out, "%-18s %8s %8s %8s %10s %8s %s\n", "QUEUE", "WAITING", "ACTIVE", "DELAYED", "COMPLETED", "FAILED", "PAUSED")
			for _, s := range stats {
				fmt.Fprintf(out, "%-18s %8d %8d %8d %10d %8d %t\n",
					s.Kind, s.Waiting, s.Active, s.Delayed, s.Completed, s.Failed, s.Paused)
			}
			return nil
		},
	}
}

func newPauseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <kind>",
		Short: "Stop dispatching new jobs of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			if err := a.core.Queue.Pause(cmd.Context(), kind); err != nil {
				return fmt.Errorf("pause %s: %w", kind, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused %s\n", kind)
			return nil
		},
	}
}

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <kind>",
		Short: "Resume dispatching jobs of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			if err := a.core.Queue.Resume(cmd.Context(), kind); err != nil {
				return fmt.Errorf("resume %s: %w", kind, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s\n", kind)
			return nil
		},
	}
}

func newDrainCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drain <kind>",
		Short: "Discard every waiting and delayed job of a kind",
		Long: `Discard every waiting and delayed job of a kind. Running jobs are not touched.
This cannot be undone, so --yes is required.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to drain %s without --yes", kind)
			}
			n, err := a.core.Queue.Drain(cmd.Context(), kind)
			if err != nil {
				return fmt.Errorf("drain %s: %w", kind, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Drained %s: %d jobs discarded\n", kind, n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the drain")
	return cmd
}

func newJobCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "job <kind> <job-id>",
		Short: "Show one job with its state, progress and result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			job, err := a.core.Queue.GetJob(cmd.Context(), kind, args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, job)
			}

			fmt.Fprintf(out, "Job: %s\n", job.ID)
			fmt.Fprintf(out, "  Kind: %s\n", job.Kind)
			fmt.Fprintf(out, "  State: %s\n", job.State)
			fmt.Fprintf(out, "  Attempts: %d/%d\n", job.AttemptsMade, job.MaxAttempts)
			fmt.Fprintf(out, "  Enqueued: %s\n", job.EnqueuedAt.Format("2006-01-02 15:04:05"))
			if job.Progress != nil {
				fmt.Fprintf(out, "  Progress: %s %d%%\n", job.Progress.Stage, job.Progress.Percentage)
			}
			if job.FinishedAt != nil {
				fmt.Fprintf(out, "  Finished: %s\n", job.FinishedAt.Format("2006-01-02 15:04:05"))
			}
			if job.FailedReason != "" {
				fmt.Fprintf(out, "  Error: %s\n", job.FailedReason)
			}
			if job.Result != nil {
				fmt.Fprintf(out, "  Success: %t (%dms)\n", job.Result.Success, job.Result.ProcessingTimeMs)
			}
			return nil
		},
	}
}
