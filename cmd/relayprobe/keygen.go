package main

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
)

func keygenCmd(a *app) *cobra.Command {
	var logN uint8
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new identity and store it encrypted in the key file",
		Long: `Generate a keypair and write the secret key to the key file as an
ncryptsec (NIP-49), encrypted with a password you choose. An existing key
file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			password, err := a.newPassword()
			if err != nil {
				return err
			}
			signer, err := keys.GenerateSigner()
			if err != nil {
				return err
			}
			if err := keys.SaveEncryptedKey(a.cfg.KeyFile, signer, password, logN); err != nil {
				return err
			}
			a.logger.Info("key file written", "path", a.cfg.KeyFile)

			npub, err := nip19.EncodePublicKey(signer.PublicKey())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, npub)
			return err
		},
	}
	cmd.Flags().Uint8Var(&logN, "log-n", keys.DefaultLogN, "scrypt cost as a power of two")
	return cmd
}
