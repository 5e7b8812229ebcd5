package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/civicsense/analysis-cli/internal/store"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage per-domain source trust scores",
}

var trustImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk import trust scores from a YAML file of domain: score pairs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		var scores map[string]float64
		if err := yaml.Unmarshal(data, &scores); err != nil {
			return eris.Wrap(err, "parse trust file")
		}
		for domain, score := range scores {
			if score < 0 || score > 1 {
				return eris.Errorf("score for %s out of range [0,1]: %v", domain, score)
			}
		}

		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ImportSourceTrust(cmd.Context(), scores)
		if err != nil {
			return err
		}

		zap.L().Info("trust scores imported", zap.Int64("rows", n))
		return nil
	},
}

var trustSetCmd = &cobra.Command{
	Use:   "set <domain> <score>",
	Short: "Set the trust score for one domain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[1], 64)
		if err != nil || score < 0 || score > 1 {
			return eris.Errorf("score must be a number in [0,1], got %q", args[1])
		}

		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		return st.SetSourceTrust(cmd.Context(), args[0], score)
	},
}

var trustGetCmd = &cobra.Command{
	Use:   "get <domain>",
	Short: "Show the trust score for one domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		score, ok, err := st.GetSourceTrust(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return eris.Errorf("no trust score for %s", args[0])
		}

		fmt.Printf("%s\t%.3f\n", args[0], score)
		return nil
	},
}

func init() {
	trustCmd.AddCommand(trustImportCmd, trustSetCmd, trustGetCmd)
	rootCmd.AddCommand(trustCmd)
}
