package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/bootstrap"
)

func newBootstrapCmd() *cobra.Command {
	var (
		out       string
		overwrite bool
		skipKeys  bool
		sets      []string
	)
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Prepare a tabterm home with config, settings and keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseOverrides(sets)
			if err != nil {
				return err
			}
			paths, err := bootstrap.WriteBootstrapWithOptions(out, bootstrap.Options{
				Overwrite: overwrite,
				SkipKeys:  skipKeys,
				Overrides: overrides,
				Logger:    pslog.Ctx(cmd.Context()),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), paths.ConfigPath)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "directory to prepare (default ~/.tabterm)")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing config, settings and client key")
	cmd.Flags().BoolVar(&skipKeys, "skip-keys", false, "do not generate client or host keys")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "config override as dotted.path=value (repeatable)")
	return cmd
}

// parseOverrides turns key=value pairs into overrides. Values are decoded as
// YAML scalars so numbers and booleans keep their type.
func parseOverrides(pairs []string) ([]bootstrap.ConfigOverride, error) {
	overrides := make([]bootstrap.ConfigOverride, 0, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q (want path=value)", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", pair, err)
		}
		if value == nil {
			value = ""
		}
		overrides = append(overrides, bootstrap.ConfigOverride{Path: strings.TrimSpace(key), Value: value})
	}
	return overrides, nil
}
