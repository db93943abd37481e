package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
)

func bech32Cmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bech32 <npub|nsec|note|nevent|nprofile|naddr>",
		Short: "Decode a NIP-19 identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			out, err := decodeBech32(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, out)
			return err
		},
	}
}

// decodeBech32 renders the payload of a NIP-19 string: hex for bare keys and
// ids, indented JSON for pointers.
func decodeBech32(s string) (string, error) {
	prefix, value, err := nip19.Decode(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if v, ok := value.(string); ok {
		return prefix + " " + v, nil
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return prefix + " " + string(b), nil
}

func encodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode NIP-19 identifiers",
	}

	var relays []string
	var author string

	npub := &cobra.Command{
		Use:   "npub <pubkey>",
		Short: "Encode a hex public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pk, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			return a.printEncoded(nip19.EncodePublicKey(pk))
		},
	}

	note := &cobra.Command{
		Use:   "note <id>",
		Short: "Encode an event id",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			return a.printEncoded(nip19.EncodeNote(id))
		},
	}

	nevent := &cobra.Command{
		Use:   "nevent <id>",
		Short: "Encode an event id with relay hints and author",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			if author != "" {
				if author, err = keys.ParsePublicKey(author); err != nil {
					return err
				}
			}
			return a.printEncoded(nip19.EncodeEvent(id, relays, author))
		},
	}
	nevent.Flags().StringArrayVar(&relays, "relay", nil, "relay hint, repeatable")
	nevent.Flags().StringVar(&author, "author", "", "author public key")

	naddr := &cobra.Command{
		Use:   "naddr <pubkey> <kind> <identifier>",
		Short: "Encode an addressable event coordinate",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			pk, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			kind, err := strconv.Atoi(args[1])
			if err != nil || kind < 0 {
				return fmt.Errorf("invalid kind %q", args[1])
			}
			return a.printEncoded(nip19.EncodeEntity(pk, kind, args[2], relays))
		},
	}
	naddr.Flags().StringArrayVar(&relays, "relay", nil, "relay hint, repeatable")

	cmd.AddCommand(npub, note, nevent, naddr)
	return cmd
}

func (a *app) printEncoded(s string, err error) error {
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	_, err = fmt.Fprintln(a.out, s)
	return err
}
