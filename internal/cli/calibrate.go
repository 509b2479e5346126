package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ancrypt/ancrypt/internal/config"
	"github.com/ancrypt/ancrypt/internal/util"
	"github.com/ancrypt/ancrypt/internal/vault"
)

func (a *App) newCalibrateCommand() *cobra.Command {
	var (
		target time.Duration
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Pick a PBKDF2 iteration count for this machine",
		Long: `Measure key derivation speed and suggest the iteration count that takes
about --target per unlock. With --save the count is written to the config
and used for vaults created afterwards. Existing vaults keep their own count.

Example:
  ancrypt calibrate --target 500ms --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target <= 0 {
				return fmt.Errorf("%w: --target must be positive", util.ErrInvalidInput)
			}

			stop := startSpinner(cmd, "Measuring key derivation...")
			iterations := vault.CalibrateIterations(target)
			elapsed := vault.BenchmarkDerivation(iterations)
			stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Iterations: %d (%v per derivation)\n", iterations, elapsed.Round(time.Millisecond))
			if iterations < vault.DefaultIterations {
				warn(cmd, "Below the default of %d iterations", vault.DefaultIterations)
			}

			if !save {
				hint(cmd, "Run with --save to use this for new vaults")
				return nil
			}
			a.cfg.KDF.Iterations = iterations
			if err := config.SaveConfig(a.cfg, a.cfgFile); err != nil {
				return err
			}
			success(cmd, "Saved to %s", a.cfgFile)
			return nil
		},
	}

	cmd.Flags().DurationVar(&target, "target", time.Second, "target time per key derivation")
	cmd.Flags().BoolVar(&save, "save", false, "write the result to the config file")

	return cmd
}
