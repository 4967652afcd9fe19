// Package cli implements the recallmem operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/recallmem-go/pkg/core"
)

type rootOptions struct {
	envPath    string
	configPath string
	offline    bool
	logLevel   string
}

// NewRootCmd builds the top-level command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "recallmem",
		Short:         "Tiered long-term memory with hybrid retrieval",
		Long:          "Store memories in durable, contextual and ephemeral tiers, query them with vector similarity boosted by recency and frequency, and prune expired ephemeral memories.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.envPath, "env", "", "Path to a .env file (default: search upward for .env)")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON config file (overrides environment)")
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "Use the deterministic mock embedder instead of a remote provider")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newAddCmd(opts),
		newQueryCmd(opts),
		newPruneCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func (o *rootOptions) loadConfig() (*core.Config, error) {
	var (
		cfg *core.Config
		err error
	)
	switch {
	case o.configPath != "":
		cfg, err = core.LoadConfigFromJSON(o.configPath)
	case o.envPath != "":
		cfg, err = core.LoadConfigFromEnvFile(o.envPath)
	default:
		cfg, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if o.offline {
		cfg.Embedder.Provider = "mock"
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) openClient() (*core.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return core.NewClient(cfg)
}

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func readContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
