// Package cli implements the hyperdrive command line.
package cli

import (
	"fmt"

	"github.com/DeBrosOfficial/hyperdrive/pkg/config"
	"github.com/spf13/cobra"
)

// DefaultConfigFile is looked up in the working directory, then in
// ~/.hyperdrive/.
const DefaultConfigFile = "hyperdrive.yaml"

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "hyperdrive",
		Short:         "Multi-provider storage and execution layer",
		Long:          "HyperDrive routes operations across storage and ledger providers with health tracking, failover, replication and consensus reads.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigFile, "Path to the node configuration file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newValidateCmd(load),
		newExecCmd(load),
		newProvidersCmd(),
		newVersionCmd(version),
	)
	return root
}

type configLoader func() (*config.Config, error)

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hyperdrive %s\n", version)
		},
	}
}
