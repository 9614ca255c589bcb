package cmd

import (
	"github.com/spf13/cobra"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown [file]",
	Short: "Tear down Topology",
	Long:  `Remove every namespace, link pair, address, route and firewall rule the topology describes.`,
	Args:  cobra.MaximumNArgs(1),
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
		return p.Teardown(cmd.Context(), path)
	},
}

func init() {
	rootCmd.AddCommand(teardownCmd)
	addFromFlag(teardownCmd)
}
