package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/appconfig"
	"pkt.systems/tabterm/internal/vault"
	"pkt.systems/tabterm/schema"
)

func newFavoritesCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Manage saved SSH connections",
	}
	cmd.AddCommand(newFavoritesListCmd(cfgPath))
	cmd.AddCommand(newFavoritesAddCmd(cfgPath))
	cmd.AddCommand(newFavoritesRemoveCmd(cfgPath))
	cmd.AddCommand(newFavoritesRotateCmd(cfgPath))
	return cmd
}

func openVault(cmd *cobra.Command, cfgPath string) (*vault.Vault, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return vault.Open(cfg.StateDir, pslog.Ctx(cmd.Context()))
}

func newFavoritesListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List favorites by group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(cmd, *cfgPath)
			if err != nil {
				return err
			}
			favorites, err := v.List()
			if err != nil {
				return err
			}
			return writeFavorites(cmd.OutOrStdout(), favorites)
		},
	}
}

func writeFavorites(out io.Writer, favorites []schema.Favorite) error {
	for _, group := range schema.GroupFavorites(favorites) {
		if _, err := fmt.Fprintf(out, "%s:\n", group.Name); err != nil {
			return err
		}
		for _, ref := range group.Favorites {
			fav := ref.Favorite
			line := fmt.Sprintf("  [%d] %s", ref.Index, fav.Label())
			if target := fav.ConnectOptions(schema.KeySettings{}); target.Address() != "" {
				line += "  " + describeTarget(target)
			}
			if fav.Password != "" {
				line += "  (password saved)"
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func describeTarget(opts schema.ConnectOptions) string {
	host := opts.Address()
	if opts.Username != "" {
		host = opts.Username + "@" + host
	}
	return host
}

func newFavoritesAddCmd(cfgPath *string) *cobra.Command {
	var fav schema.Favorite
	var askPassword bool
	cmd := &cobra.Command{
		Use:   "add <hostname>",
		Short: "Save a favorite connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fav.Hostname = args[0]
			if askPassword {
				password, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Password for "+fav.Hostname+": ", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				fav.Password = string(password)
			}
			v, err := openVault(cmd, *cfgPath)
			if err != nil {
				return err
			}
			index, err := v.Add(fav)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved [%d] %s\n", index, fav.Label())
			return err
		},
	}
	cmd.Flags().StringVarP(&fav.DisplayName, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&fav.Username, "user", "u", "", "ssh username")
	cmd.Flags().IntVarP(&fav.Port, "port", "p", 0, "ssh port (default 22)")
	cmd.Flags().StringVarP(&fav.KeyPath, "key", "i", "", "private key path")
	cmd.Flags().StringVarP(&fav.Group, "group", "g", "", "group name")
	cmd.Flags().BoolVar(&askPassword, "password", false, "prompt for a password to store encrypted")
	return cmd
}

func newFavoritesRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <index|name>",
		Short: "Remove a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(cmd, *cfgPath)
			if err != nil {
				return err
			}
			index, err := favoriteIndex(v, args[0])
			if err != nil {
				return err
			}
			removed, err := v.Remove(index)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", removed.Label())
			return err
		},
	}
}

// favoriteIndex resolves a numeric index or a display name/hostname.
func favoriteIndex(v *vault.Vault, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, errors.New("favorite reference is required")
	}
	if index, err := strconv.Atoi(ref); err == nil {
		return index, nil
	}
	index, _, err := v.Find(ref)
	return index, err
}

func newFavoritesRotateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt favorites with a fresh data key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := v.Rotate(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "favorites re-encrypted")
			return err
		},
	}
}
