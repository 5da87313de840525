package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"spanwatch/pkg/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the layered configuration",
	}

	var format string
	getCmd := &cobra.Command{
		Use:   "get [KEY]",
		Short: "Print a key, a key prefix, or every setting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			var out map[string]interface{}
			if len(args) == 0 {
				out = m.AllSettings()
			} else {
				v, err := m.Get(args[0])
				if err != nil {
					return err
				}
				out = map[string]interface{}{args[0]: v}
			}
			return printOutput(cmd.OutOrStdout(), out, format)
		},
	}
	getCmd.Flags().StringVarP(&format, "format", "o", "yaml", "output format (json, yaml)")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.load(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch [KEY]",
		Short: "Print changes as the configuration files are edited",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, err := opts.load(ctx)
			if err != nil {
				return err
			}
			if err := m.Start(ctx); err != nil {
				return err
			}
			key := ""
			if len(args) > 0 {
				key = args[0]
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Watching config changes for %q, press Ctrl+C to stop\n", key)
			for {
				select {
				case <-ctx.Done():
					return nil
				case change := <-m.Watch():
					if key == "" || change.Key == key || strings.HasPrefix(change.Key, key+".") {
						fmt.Fprintf(w, "%s = %v (was %v, from %s)\n", change.Key, change.NewValue, change.OldValue, change.Source)
					}
				}
			}
		},
	}

	cmd.AddCommand(getCmd, validateCmd, watchCmd)
	return cmd
}

func printOutput(w io.Writer, data map[string]interface{}, format string) error {
	f, err := config.FormatByName(format)
	if err != nil {
		return err
	}
	out, err := f.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		_, err = fmt.Fprintln(w)
	}
	return err
}
