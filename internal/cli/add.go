package cli

import (
	"github.com/spf13/cobra"

	"github.com/oceanbase/recallmem-go/pkg/core"
)

func newAddCmd(root *rootOptions) *cobra.Command {
	var (
		owner string
		tier  string
		attrs map[string]string
	)
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args)
			if err != nil {
				return err
			}

			client, err := root.openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			var attributes core.Attributes
			if len(attrs) > 0 {
				attributes = make(core.Attributes, len(attrs))
				for k, v := range attrs {
					attributes[k] = v
				}
			}

			memory, err := client.AddMemory(cmd.Context(), owner, core.Tier(tier), content, attributes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), memory)
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner ID (required)")
	cmd.Flags().StringVarP(&tier, "tier", "t", string(core.TierDurable), "Tier: durable, contextual, ephemeral")
	cmd.Flags().StringToStringVarP(&attrs, "attr", "a", nil, "Attribute key=value pairs")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
