package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/sshkeys"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage SSH client keys",
	}
	cmd.AddCommand(newKeysGenerateCmd())
	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	var opts sshkeys.GenerateOptions
	var askPassphrase bool
	cmd := &cobra.Command{
		Use:   "generate [path]",
		Short: "Generate a private key and print its authorized_keys line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Path = args[0]
			} else {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				opts.Path = filepath.Join(home, ".tabterm", "id_"+opts.Type)
			}
			if askPassphrase {
				pass, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Key passphrase: ", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				confirm, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Confirm passphrase: ", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				if string(pass) != string(confirm) {
					return fmt.Errorf("passphrases do not match")
				}
				opts.Passphrase = []byte(pass)
			}
			opts.Logger = pslog.Ctx(cmd.Context())
			line, err := sshkeys.Generate(opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.Type, "type", "t", sshkeys.KeyTypeEd25519, "key type: ed25519 or rsa")
	cmd.Flags().IntVarP(&opts.Bits, "bits", "b", sshkeys.DefaultRSABits, "RSA key size")
	cmd.Flags().StringVarP(&opts.Comment, "comment", "C", "tabterm", "key comment")
	cmd.Flags().BoolVar(&opts.Overwrite, "force", false, "overwrite an existing key")
	cmd.Flags().BoolVar(&askPassphrase, "passphrase", false, "prompt for a passphrase")
	return cmd
}
