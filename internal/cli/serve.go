package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanbase/recallmem-go/pkg/core"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daily retention schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if runNow {
				cfg.Retention.RunOnStart = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := core.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.StartRetention(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "retention scheduler running, next prune at %s\n",
				client.NextRetentionRun().Format(time.RFC3339))

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Prune once immediately on start")
	return cmd
}
