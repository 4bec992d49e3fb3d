// -- cmd/validate.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/batchrun/internal/config"
	"github.com/xkilldash9x/batchrun/internal/inputs"
	"github.com/xkilldash9x/batchrun/internal/observability"
	"github.com/xkilldash9x/batchrun/internal/runner"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and input files without launching a browser",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v, inputFlagKeys)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			items, err := inputs.LoadItems(cfg.Inputs().ItemsFile)
			if err != nil {
				return err
			}
			proxies, err := inputs.LoadProxies(cfg.Inputs().ProxiesFile, observability.GetLogger())
			if err != nil {
				return err
			}

			batchSize := cfg.Runner().BatchSize
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d items, %d proxies, batch size %d (%d groups).\n",
				len(items), len(proxies), batchSize, len(runner.Partition(items, batchSize)))
			return nil
		},
	}
	addInputFlags(validateCmd)
	return validateCmd
}
