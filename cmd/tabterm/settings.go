package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/appconfig"
	"pkt.systems/tabterm/internal/persist"
)

func newSettingsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change SSH key settings",
	}
	cmd.AddCommand(newSettingsShowCmd(cfgPath))
	cmd.AddCommand(newSettingsSetCmd(cfgPath))
	return cmd
}

func openSettings(cmd *cobra.Command, cfgPath string) (*persist.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return persist.NewStoreWithLogger(cfg.StateDir, pslog.Ctx(cmd.Context()))
}

func newSettingsShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSettings(cmd, *cfgPath)
			if err != nil {
				return err
			}
			settings, _, err := store.Load()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newSettingsSetCmd(cfgPath *string) *cobra.Command {
	var useKey bool
	var keyPath string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update SSH key settings; running tabs pick up the change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("use-key") && !flags.Changed("key-path") {
				return fmt.Errorf("nothing to set; use --use-key or --key-path")
			}
			store, err := openSettings(cmd, *cfgPath)
			if err != nil {
				return err
			}
			settings, _, err := store.Load()
			if err != nil {
				return err
			}
			if flags.Changed("use-key") {
				settings.UseSSHKey = useKey
			}
			if flags.Changed("key-path") {
				settings.SSHKeyPath = keyPath
			}
			if err := store.Save(settings); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", store.Path())
			return err
		},
	}
	cmd.Flags().BoolVar(&useKey, "use-key", false, "authenticate with a private key first")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "private key used when a favorite has none")
	return cmd
}
