package main

import (
	"fmt"
	"time"

	"github.com/FranksOps/trawl/internal/report"
	"github.com/FranksOps/trawl/internal/storage"
	"github.com/spf13/cobra"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		sourceID string
		status   string
		since    string
		limit    int
		format   string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Summarize the run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.RunFilter{SourceID: sourceID, Status: storage.Status(status), Limit: limit}
			switch filter.Status {
			case "", storage.StatusWIP, storage.StatusOK, storage.StatusFailed:
			default:
				return fmt.Errorf("invalid --status %q", status)
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since value: %w", err)
				}
				t := time.Now().UTC().Add(-d)
				filter.Since = &t
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			runs, err := a.backend.QueryRuns(ctx, filter)
			if err != nil {
				return err
			}
			summary := report.GenerateSummary(runs)

			w := cmd.OutOrStdout()
			switch format {
			case "json":
				return report.WriteJSON(w, summary)
			case "html":
				return report.WriteHTML(w, summary)
			case "text":
				return report.WriteText(w, summary)
			default:
				return fmt.Errorf("invalid --format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "only runs of this source")
	cmd.Flags().StringVar(&status, "status", "", "only runs in this status (WIP, OK, FAILED)")
	cmd.Flags().StringVar(&since, "since", "", "only runs started within this duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs, newest first (0 = all)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json or html")
	return cmd
}
