package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Show Resources",
	Long:  `Show the resources of the topology, or the operations apply and teardown would run.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := topologyPath(cmd, args)
		if err != nil {
			return err
		}
		p := offline(cmd)
		switch class, _ := cmd.Flags().GetString("class"); class {
		case "plan":
			return p.ShowPlan(path)
		case "teardown":
			return p.ShowTeardown(path)
		case "namespaces":
			return p.ShowNamespaces(path)
		case "links":
			return p.ShowLinks(path)
		default:
			return errors.Errorf("invalid class %q", class)
		}
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	addFromFlag(showCmd)
	showCmd.Flags().String("class", "namespaces", "Class of the element to show: plan, teardown, namespaces or links")
}
