package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/pipeline"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var jobType string
	var title string
	var keywords []string
	var domain string
	var audience string
	var tone string
	var priority int
	var requester string
	var naturalKey string
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an article job to the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var payload json.RawMessage
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
				payload = data
			} else {
				if strings.TrimSpace(title) == "" {
					return fmt.Errorf("--title is required unless --payload-file is given")
				}
				if len(keywords) == 0 {
					return fmt.Errorf("--keyword is required unless --payload-file is given")
				}
				brief := pipeline.ResearchPayload{
					Title:          title,
					Keywords:       keywords,
					Domain:         domain,
					TargetAudience: audience,
					Tone:           tone,
				}
				encoded, err := json.Marshal(brief)
				if err != nil {
					return fmt.Errorf("encode payload: %w", err)
				}
				payload = encoded
			}

			req := intakeRequest{
				JobType:    jobType,
				Payload:    payload,
				Requester:  requester,
				NaturalKey: naturalKey,
			}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}

			result, code, err := client.submit(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if code == http.StatusOK && result.Reused {
				fmt.Fprintf(out, "Reusing active job %s\n", result.JobID)
				return nil
			}
			fmt.Fprintf(out, "Accepted job %s\n", result.JobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobType, "job-type", "article", "Job type to submit")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Article title")
	cmd.Flags().StringSliceVarP(&keywords, "keyword", "k", nil, "Target keyword (repeatable)")
	cmd.Flags().StringVar(&domain, "domain", "", "Publishing domain")
	cmd.Flags().StringVar(&audience, "audience", "", "Target audience")
	cmd.Flags().StringVar(&tone, "tone", "", "Writing tone")
	cmd.Flags().IntVar(&priority, "priority", 0, "Queue priority (higher first)")
	cmd.Flags().StringVar(&requester, "requester", "", "Submitter identity")
	cmd.Flags().StringVar(&naturalKey, "natural-key", "", "Explicit dedupe key")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Read the research payload from a JSON file")

	return cmd
}
