package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spanwatch/pkg/config"
)

var (
	Version = "dev"
	Commit  = "none"
)

type rootOptions struct {
	configPaths []string
	overrides   []string
}

func (o *rootOptions) load(ctx context.Context) (*config.ConfigManager, error) {
	overrides, err := config.ParseFlagValues(o.overrides)
	if err != nil {
		return nil, err
	}
	m, err := config.Load(ctx, config.Options{
		Paths:     o.configPaths,
		Overrides: overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ApplyLogging(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "spanwatch",
		Short:         "Per-request timing over a shared timing tree",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringSliceVarP(&opts.configPaths, "config", "c", nil, "configuration files (yaml or json), later files win")
	rootCmd.PersistentFlags().StringArrayVar(&opts.overrides, "set", nil, "override a key, as key=value")

	rootCmd.AddCommand(newDemoCmd(opts), newConfigCmd(opts))
	return rootCmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
