package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/recallmem-go/pkg/core"
)

func newQueryCmd(root *rootOptions) *cobra.Command {
	var (
		owner     string
		tiers     []string
		limit     int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Query memories",
		Long:  "Rank an owner's memories against the query text and print them as JSON.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			var opts []core.QueryOption
			if limit > 0 {
				opts = append(opts, core.WithLimit(limit))
			}
			if cmd.Flags().Changed("threshold") {
				opts = append(opts, core.WithSimilarityThreshold(threshold))
			}
			if len(tiers) > 0 {
				ts := make([]core.Tier, 0, len(tiers))
				for _, t := range tiers {
					ts = append(ts, core.Tier(strings.TrimSpace(t)))
				}
				opts = append(opts, core.WithTiers(ts...))
			}

			results, err := client.QueryMemories(cmd.Context(), owner, strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner ID (required)")
	cmd.Flags().StringSliceVarP(&tiers, "tier", "t", nil, "Restrict to tiers (repeatable or comma-separated)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Max results (default from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity in [0, 1] (default from config)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
