package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"Solar/internal/config"
	"Solar/internal/runner"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and every runner block",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			problems := cfg.RunnerProblems()
			for _, id := range cfg.RunnerIDs() {
				if err, bad := problems[id]; bad {
					fmt.Fprintf(out, "  x %s: %v\n", id, err)
					continue
				}
				block := cfg.Runners[id].(map[string]any)
				settings, _ := runner.DecodeSettings(block)
				state := "enabled"
				if !settings.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "  ok %s (%s, %s, every %s)\n", id, block["type"], state, settings.MeasurementInterval)
			}

			if len(problems) > 0 {
				return fmt.Errorf("%d of %d runner blocks are invalid", len(problems), len(cfg.Runners))
			}
			fmt.Fprintf(out, "configuration valid: %d runners\n", len(cfg.Runners))
			return nil
		},
	}
}
