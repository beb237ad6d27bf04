package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/pipeline"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, status)
			}

			fmt.Fprintf(out, "Daemon:        running (pid %d)\n", status.PID)
			fmt.Fprintf(out, "Store:         %s\n", status.StorePath)
			fmt.Fprintf(out, "Queue backend: %s\n", status.QueueBackend)
			fmt.Fprintf(out, "Queue depth:   %d\n", status.QueueDepth)
			fmt.Fprintf(out, "Active leases: %d\n", status.ActiveLeases)
			fmt.Fprintln(out)

			rows := make([][]string, 0, len(status.Stages))
			for _, stageName := range pipeline.Stages() {
				counts, ok := status.Stages[string(stageName)]
				if !ok {
					continue
				}
				rows = append(rows, []string{
					string(stageName),
					formatCount(counts.Queued),
					formatCount(counts.Processing),
					formatCount(counts.Completed),
					formatCount(counts.Failed),
				})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No jobs yet.")
				return nil
			}
			fmt.Fprintln(out, renderTable([]column{
				{title: "Stage"},
				{title: "Queued", right: true},
				{title: "Processing", right: true},
				{title: "Completed", right: true},
				{title: "Failed", right: true},
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}
