package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var providersJSON bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show provider health, routing scores, and circuit states",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		health := env.Orchestrator.Health()

		if providersJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(health)
		}

		fmt.Printf("%-20s  %-8s  %6s  %8s  %10s  %s\n",
			"ID", "ENABLED", "SCORE", "SUCCESS", "LATENCY_MS", "CIRCUIT")
		for _, h := range health {
			fmt.Printf("%-20s  %-8t  %6.3f  %7.1f%%  %10.0f  %s\n",
				h.ID, h.Enabled, h.Score, h.SuccessRate*100, h.AvgLatencyMs, h.CircuitState)
		}

		return nil
	},
}

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(providersCmd)
}
