package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omzlo/nocan-node-manager/internal/display"
)

func newNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes known to a node manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := appInstance.Client()
			if err != nil {
				return err
			}
			list, err := c.ListNodes(cmd.Context())
			if err != nil {
				return err
			}
			return display.RenderNodes(cmd.OutOrStdout(), list)
		},
	}
}

// newNodeCommandCmd builds a subcommand that sends command to one node.
func newNodeCommandCmd(command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command + " <node>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := appInstance.Client()
			if err != nil {
				return err
			}
			if err := c.Command(cmd.Context(), args[0], command); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s node %s: ok\n", command, args[0])
			return nil
		},
	}
}
