package cmd

import (
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Apply Topology",
	Long: `Apply Topology with its namespaces, link pairs, addresses, routes and firewall rules.
Everything already in place is left alone; on failure every change is rolled back.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := topologyPath(cmd, args)
		if err != nil {
			return err
		}
		p, done, err := provisioner(cmd)
		if err != nil {
			return err
		}
		defer done()
		return p.Apply(cmd.Context(), path)
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	addFromFlag(applyCmd)
}
