package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/model"
	"github.com/civicsense/analysis-cli/internal/orchestrator"
)

var (
	analyzeMode   string
	analyzeLocale string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text]",
	Short: "Analyze a proposal across providers and print the consensus result",
	Long:  "Sends the input text to the healthiest configured providers, validates each response, and prints the merged analysis as JSON. Reads stdin when no argument is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		input := strings.Join(args, " ")
		if strings.TrimSpace(input) == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
			input = string(data)
		}

		mode := model.AnalysisMode(analyzeMode)
		if !mode.Valid() {
			return eris.Errorf("unknown mode %q (want impact, alternatives, or factcheck)", analyzeMode)
		}

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Orchestrator.Analyze(cmd.Context(), orchestrator.Request{
			Mode:   mode,
			Input:  input,
			Locale: analyzeLocale,
		})
		if err != nil {
			return err
		}

		usage := env.Usage.Total()
		zap.L().Info("analysis complete",
			zap.String("mode", string(mode)),
			zap.String("method", string(result.Method)),
			zap.Int("candidates", len(result.Candidates)),
			zap.Int("tokens_in", usage.TokensIn),
			zap.Int("tokens_out", usage.TokensOut),
			zap.Float64("cost_eur", usage.CostEUR))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", "impact", "analysis mode: impact, alternatives, or factcheck")
	analyzeCmd.Flags().StringVar(&analyzeLocale, "locale", "en", "prompt locale")
	rootCmd.AddCommand(analyzeCmd)
}
