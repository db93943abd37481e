package main

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
)

func giftwrapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "giftwrap <recipient> [rumor.json|-]",
		Short: "Seal and gift wrap an unsigned event for a recipient",
		Long: `Read an unsigned event and wrap it for the recipient as a kind 1059 gift
wrap. The rumor is sealed by the key file's identity and the seal is wrapped
with a throwaway key. The rumor's pubkey, id and creation time are set here.`,
		Example: `  echo '{"kind":14,"content":"hi","tags":[]}' | relayprobe giftwrap npub1... | relayprobe post wss://relay.example.com`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			recipient, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			name := "-"
			if len(args) == 2 {
				name = args[1]
			}
			rumor, err := a.readUnsigned(name)
			if err != nil {
				return err
			}
			signer, err := a.signer()
			if err != nil {
				return err
			}
			wrap, err := giftWrap(signer, recipient, rumor)
			if err != nil {
				return err
			}
			return a.printEvent(wrap)
		},
	}
}

// giftWrap is the reverse of unwrap: rumor is sealed as s, and the seal is
// wrapped for recipient.
func giftWrap(s keys.Signer, recipient string, rumor nostr.Event) (nostr.Event, error) {
	rumor.PubKey = s.PublicKey()
	rumor.CreatedAt = nostr.Now()
	if rumor.Tags == nil {
		rumor.Tags = nostr.Tags{}
	}
	rumor.ID = rumor.GetID()

	encrypt := func(plaintext string) (string, error) {
		return s.Encrypt(recipient, plaintext, keys.NIP44)
	}
	sign := func(ev *nostr.Event) error {
		signed, err := s.SignEvent(*ev)
		if err != nil {
			return err
		}
		*ev = signed
		return nil
	}
	return nip59.GiftWrap(rumor, recipient, encrypt, sign, nil)
}
