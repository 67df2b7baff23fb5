package cli

import (
	"fmt"
	"sort"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/spf13/cobra"
)

type batchView struct {
	Batch    *domain.BatchProgress    `json:"batch"`
	Creators []domain.CreatorProgress `json:"creators,omitempty"`
}

func newProgressCmd(a *app) *cobra.Command {
	var showCreators bool

	cmd := &cobra.Command{
		Use:   "progress <batch-id>",
		Short: "Show batch progress",
		Long: `Show the aggregate progress of a batch.

Examples:
  queuectl progress 3f1c...             # Totals only
  queuectl progress 3f1c... --creators  # With per-creator platform status`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			batch, err := a.core.Tracker.GetProgress(ctx, args[0])
			if err != nil {
				return err
			}
			view := batchView{Batch: batch}
			if showCreators {
				view.Creators, err = a.core.Tracker.ListCreators(ctx, args[0])
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, view)
			}

			fmt.Fprintf(out, "Batch: %s\n", batch.BatchID)
			fmt.Fprintf(out, "  Status: %s (%d%%)\n", batch.Status, batch.Percentage())
			fmt.Fprintf(out, "  Creators: %d total, %d pending, %d processing, %d completed, %d failed\n",
				batch.TotalCreators, batch.PendingCreators, batch.ProcessingCreators, batch.CompletedCreators, batch.FailedCreators)
			fmt.Fprintf(out, "  Videos: %d/%d done, %d failed\n",
				batch.CompletedVideos+batch.FailedVideos, batch.TotalVideos, batch.FailedVideos)
			if batch.Error != "" {
				fmt.Fprintf(out, "  Error: %s\n", batch.Error)
			}

			if len(view.Creators) > 0 {
				fmt.Fprintf(out, "\n%-20s %-11s %-9s %s\n", "CREATOR", "STATUS", "VIDEOS", "PLATFORMS")
				for _, c := range view.Creators {
					fmt.Fprintf(out, "%-20s %-11s %-9s %s\n",
						c.CreatorID, c.Status,
						fmt.Sprintf("%d/%d", c.VideoProgress.Completed+c.VideoProgress.Failed, c.VideoProgress.Total),
						platformSummary(c.Platforms))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showCreators, "creators", false, "list every creator of the batch")
	return cmd
}

func platformSummary(platforms map[string]domain.ProgressEntry) string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)

	s := ""
	for i, name := range names {
		if i > 0 {
			s += " "
		}
		s += name + "=" + string(platforms[name].Status)
	}
	return s
}

func newAbandonCmd(a *app) *cobra.Command {
	var reason string
	var drain []string

	cmd := &cobra.Command{
		Use:   "abandon <batch-id>",
		Short: "Mark a batch failed and optionally drain queues",
		Long: `Mark a batch failed. With --drain the named queues are drained as well; draining
is queue-wide and also discards jobs of other batches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make([]domain.Kind, 0, len(drain))
			for _, name := range drain {
				kind, err := domain.ParseKind(name)
				if err != nil {
					return err
				}
				kinds = append(kinds, kind)
			}

			drained, err := a.core.Coordinator.Abandon(cmd.Context(), args[0], reason, kinds...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch %s marked failed\n", args[0])
			for _, kind := range kinds {
				fmt.Fprintf(out, "  Drained %s: %d jobs\n", kind, drained[kind])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason recorded on the batch")
	cmd.Flags().StringSliceVar(&drain, "drain", nil, "queues to drain (comma separated)")
	return cmd
}
