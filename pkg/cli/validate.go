package cli

import (
	"fmt"

	"github.com/DeBrosOfficial/hyperdrive/pkg/config"
	"github.com/spf13/cobra"
)

func newValidateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := validate(cmd, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Configuration is valid (%d providers)\n", len(cfg.Providers))
			return nil
		},
	}
}

// validate prints every validation error to stderr and fails when there is
// at least one.
func validate(cmd *cobra.Command, cfg *config.Config) error {
	errs := cfg.Validate()
	if len(errs) == 0 {
		return nil
	}
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "❌ Configuration has %d error(s):\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(out, "  - %v\n", err)
	}
	return fmt.Errorf("invalid configuration")
}
