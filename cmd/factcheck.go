package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/model"
	"github.com/civicsense/analysis-cli/internal/store"
)

var factcheckLocale string

var factcheckCmd = &cobra.Command{
	Use:   "factcheck [text]",
	Short: "Decompose text into claims and verify each one",
	Long:  "Extracts individual factual claims from the input, verifies each against the configured providers within the job token budget, and prints the finished job as JSON. Reads stdin when no argument is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")
		if strings.TrimSpace(content) == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
			content = string(data)
		}

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Factcheck.Run(cmd.Context(), content, factcheckLocale)
		if err != nil {
			return err
		}

		usage := env.Usage.Total()
		zap.L().Info("fact-check complete",
			zap.String("job_id", job.ID),
			zap.Int("claims", len(job.Claims)),
			zap.Int("tokens_used", job.TokensUsed),
			zap.Int("provider_calls", usage.Calls),
			zap.Float64("cost_eur", usage.CostEUR))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

var (
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent fact-check jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(cmd.Context(), store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%-36s  %-10s  %7s  %9s  %s\n", "ID", "STATUS", "TOKENS", "COST_EUR", "CREATED")
		for _, j := range jobs {
			fmt.Printf("%-36s  %-10s  %7d  %9.4f  %s\n",
				j.ID, j.Status, j.TokensUsed, j.CostEUR, j.CreatedAt.Format("2006-01-02 15:04:05"))
		}

		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show one fact-check job with its claims and verdicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	factcheckCmd.Flags().StringVar(&factcheckLocale, "locale", "en", "prompt locale")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (queued, running, completed, failed)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list")
	factcheckCmd.AddCommand(jobsCmd, jobCmd)
	rootCmd.AddCommand(factcheckCmd)
}
