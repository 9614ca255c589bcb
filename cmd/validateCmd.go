package cmd

import (
	"Netlab/pkg"
	"Netlab/pkg/reconcile"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate Topology",
	Long:  `Check a topology file and print every problem found, without touching the host.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := topologyPath(cmd, args)
		if err != nil {
			return err
		}
		return offline(cmd).Validate(path)
	},
}

// offline is a Provisioner for verbs that never reach the driver.
func offline(cmd *cobra.Command) *pkg.Provisioner {
	return pkg.NewProvisioner(pkg.NewManager(nil, reconcile.Options{}, nil), cmd.OutOrStdout())
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addFromFlag(validateCmd)
}
