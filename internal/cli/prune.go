package cli

import (
	"github.com/spf13/cobra"
)

func newPruneCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired ephemeral memories now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := client.PruneExpired(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
		},
	}
}
