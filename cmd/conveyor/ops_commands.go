package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"conveyor/internal/notifications"
	"conveyor/internal/pipeline"
)

func newWorkCommand(ctx *commandContext) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "work <stage>",
		Short: "Claim and process a batch of messages for one stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := pipeline.ParseStage(args[0]); !ok {
				return fmt.Errorf("unknown stage %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			accepted, code, err := client.work(cmd.Context(), args[0], batchSize)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if code == http.StatusNoContent {
				fmt.Fprintf(out, "No visible messages for stage %s\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "Claimed %d message(s): %s\n", accepted.Count, accepted.Message)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Maximum messages to claim (0 uses the daemon's configured batch size)")
	return cmd
}

func newRescueCommand(ctx *commandContext) *cobra.Command {
	var jobType string
	var minAgeMinutes int
	var maxJobs int

	cmd := &cobra.Command{
		Use:   "rescue",
		Short: "Re-enqueue jobs whose workers went silent",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			summary, err := client.rescue(cmd.Context(), rescueRequest{
				JobType:       jobType,
				MinAgeMinutes: minAgeMinutes,
				MaxJobs:       maxJobs,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if summary.RescuedJobs == 0 {
				fmt.Fprintln(out, "No stale jobs found.")
				return nil
			}
			fmt.Fprintf(out, "Rescued %d job(s):\n", summary.RescuedJobs)
			for _, id := range summary.JobIDs {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jobType, "job-type", "", "Only rescue jobs of this type")
	cmd.Flags().IntVar(&minAgeMinutes, "min-age-minutes", 0, "Minimum heartbeat age (0 uses the configured default)")
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "Maximum jobs per sweep (0 uses the configured default)")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var windowMinutes int
	var durationThresholdMS int
	var errorRateThreshold float64
	var queueDepthThreshold int
	var noAlert bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Evaluate pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			query := url.Values{}
			if windowMinutes > 0 {
				query.Set("window_minutes", strconv.Itoa(windowMinutes))
			}
			if durationThresholdMS > 0 {
				query.Set("duration_threshold_ms", strconv.Itoa(durationThresholdMS))
			}
			if errorRateThreshold > 0 {
				query.Set("error_rate_threshold", strconv.FormatFloat(errorRateThreshold, 'f', -1, 64))
			}
			if queueDepthThreshold > 0 {
				query.Set("queue_depth_threshold", strconv.Itoa(queueDepthThreshold))
			}
			if noAlert {
				query.Set("send_alert", "false")
			}

			doc, _, err := client.healthcheck(cmd.Context(), query)
			if err != nil {
				return err
			}
			report := doc.Health

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, doc); err != nil {
					return err
				}
			} else {
				verdict := "healthy"
				if !report.Healthy {
					verdict = "UNHEALTHY"
				}
				fmt.Fprintf(out, "Pipeline %s (window %dm)\n", verdict, report.WindowMinutes)
				fmt.Fprintf(out, "  completions:  %d\n", report.Completions)
				fmt.Fprintf(out, "  failures:     %d (rate %.2f)\n", report.Failures, report.FailureRate)
				fmt.Fprintf(out, "  avg duration: %.0f ms\n", report.AvgDurationMS)
				fmt.Fprintf(out, "  queue depth:  %d\n", report.QueueDepth)
				for _, alert := range report.Alerts {
					fmt.Fprintf(out, "  [%s] %s: %s\n", alert.Severity, alert.Type, alert.Message)
				}
			}
			if !report.Healthy {
				return fmt.Errorf("pipeline unhealthy: %d alert(s)", len(report.Alerts))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&windowMinutes, "window-minutes", 0, "Override the evaluation window")
	cmd.Flags().IntVar(&durationThresholdMS, "duration-threshold-ms", 0, "Override the stage duration threshold")
	cmd.Flags().Float64Var(&errorRateThreshold, "error-rate-threshold", 0, "Override the failure rate threshold")
	cmd.Flags().IntVar(&queueDepthThreshold, "queue-depth-threshold", 0, "Override the queue depth threshold")
	cmd.Flags().BoolVar(&noAlert, "no-alert", false, "Skip webhook alert delivery for this check")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newOrchestrateCommand(ctx *commandContext) *cobra.Command {
	var maxWorkers int
	var workersPerStage int
	var durationMinutes int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Run the backlog-proportional scaling loop until the queue drains",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			summary, err := client.orchestrate(cmd.Context(), orchestrateRequest{
				MaxWorkers:      maxWorkers,
				WorkersPerStage: workersPerStage,
				DurationMinutes: durationMinutes,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, summary)
			}

			fmt.Fprintf(out, "Run finished after %d cycle(s), %d worker(s) launched\n",
				summary.Cycles, summary.WorkersLaunched)
			if len(summary.StageStats) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(summary.StageStats))
			for _, stageName := range pipeline.Stages() {
				stats, ok := summary.StageStats[string(stageName)]
				if !ok {
					continue
				}
				rows = append(rows, []string{
					string(stageName),
					formatCount(stats.WorkersLaunched),
					formatCount(stats.MessagesClaimed),
					formatCount(stats.MaxBacklog),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				{title: "Stage"},
				{title: "Workers", right: true},
				{title: "Claimed", right: true},
				{title: "Max Backlog", right: true},
			}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Total worker cap (0 uses the configured default)")
	cmd.Flags().IntVar(&workersPerStage, "workers-per-stage", 0, "Per-stage worker cap (0 uses the configured default)")
	cmd.Flags().IntVar(&durationMinutes, "duration-minutes", 0, "Run duration cap (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test alert to the configured webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Health.WebhookURL == "" {
				return fmt.Errorf("health.webhook_url is not configured")
			}
			notifier := notifications.NewService(cfg)
			if err := notifier.TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification delivered")
			return nil
		},
	}
}
