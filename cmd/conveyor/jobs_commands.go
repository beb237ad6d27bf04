package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var status string
	var jobType string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List pipeline jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.jobs(cmd.Context(), status, jobType, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				attempts := fmt.Sprintf("%d/%d", job.AttemptCount, job.MaxAttempts)
				rows = append(rows, []string{
					shortID(job.ID),
					job.JobType,
					job.Stage,
					colorizeStatus(job.Status, colorize),
					attempts,
					formatTimestamp(job.UpdatedAt),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				{title: "ID"},
				{title: "Type"},
				{title: "Stage"},
				{title: "Status"},
				{title: "Attempts", right: true},
				{title: "Updated"},
			}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by job status")
	cmd.Flags().StringVar(&jobType, "job-type", "", "Filter by job type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its stage records and event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			detail, err := client.job(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, detail)
			}

			colorize := shouldColorize(out)
			job := detail.Job
			fmt.Fprintf(out, "Job:       %s\n", job.ID)
			fmt.Fprintf(out, "Type:      %s\n", job.JobType)
			fmt.Fprintf(out, "Stage:     %s\n", job.Stage)
			fmt.Fprintf(out, "Status:    %s\n", colorizeStatus(job.Status, colorize))
			fmt.Fprintf(out, "Attempts:  %d/%d\n", job.AttemptCount, job.MaxAttempts)
			if job.NaturalKey != "" {
				fmt.Fprintf(out, "Key:       %s\n", job.NaturalKey)
			}
			if job.Requester != "" {
				fmt.Fprintf(out, "Requester: %s\n", job.Requester)
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:   %s\n", formatTimestamp(job.CreatedAt))
			fmt.Fprintf(out, "Updated:   %s\n", formatTimestamp(job.UpdatedAt))
			fmt.Fprintln(out)

			stageRows := make([][]string, 0, len(detail.Stages))
			for _, record := range detail.Stages {
				started := "-"
				if record.StartedAt != nil {
					started = formatTimestamp(*record.StartedAt)
				}
				completed := "-"
				if record.CompletedAt != nil {
					completed = formatTimestamp(*record.CompletedAt)
				}
				stageRows = append(stageRows, []string{
					record.Stage,
					colorizeStatus(record.Status, colorize),
					started,
					completed,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				{title: "Stage"},
				{title: "Status"},
				{title: "Started"},
				{title: "Completed"},
			}, stageRows))

			if len(detail.Events) > 0 {
				fmt.Fprintln(out)
				eventRows := make([][]string, 0, len(detail.Events))
				for _, event := range detail.Events {
					eventRows = append(eventRows, []string{
						formatTimestamp(event.At),
						event.Status,
						truncate(event.Message, 60),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{title: "At"},
					{title: "Event"},
					{title: "Message"},
				}, eventRows))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}
