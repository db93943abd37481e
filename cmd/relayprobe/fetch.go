package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
)

const (
	kindSeal      = 13
	kindGiftWrap  = 1059
	kindRelayList = 10002
)

func (a *app) loginFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&a.login, "login", false, "answer AUTH challenges with the key file")
}

func dumpCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <relay>",
		Short: "Fetch everything the relay will hand out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd.Context(), args[0], "dump", nostr.Filter{}, a.login, a.printEvent)
		},
	}
	a.loginFlag(cmd)
	return cmd
}

func fetchIDCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-id <relay> <id|note|nevent>",
		Short: "Fetch one event by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[1])
			if err != nil {
				return err
			}
			filter := nostr.Filter{IDs: []string{id}}
			return a.fetch(cmd.Context(), args[0], "fetch_by_id", filter, a.login, a.printEvent)
		},
	}
	a.loginFlag(cmd)
	return cmd
}

func fetchKindAuthorCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "fetch-kind-author <relay> <kind> <pubkey|npub>",
		Short: "Fetch events of one kind by one author",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := strconv.Atoi(args[1])
			if err != nil || kind < 0 {
				return fmt.Errorf("invalid kind %q", args[1])
			}
			author, err := keys.ParsePublicKey(args[2])
			if err != nil {
				return err
			}
			filter := nostr.Filter{Kinds: []int{kind}, Authors: []string{author}, Limit: limit}
			return a.fetch(cmd.Context(), args[0], "fetch_by_kind_and_author", filter, a.login, a.printEvent)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events to ask for (0 for no limit)")
	a.loginFlag(cmd)
	return cmd
}

func fetchRelayListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-relay-list <relay> <pubkey|npub>",
		Short: "Fetch an author's relay list (kind 10002)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			author, err := keys.ParsePublicKey(args[1])
			if err != nil {
				return err
			}
			filter := nostr.Filter{Kinds: []int{kindRelayList}, Authors: []string{author}, Limit: 1}
			return a.fetch(cmd.Context(), args[0], "fetch_relay_list", filter, a.login, a.printEvent)
		},
	}
	a.loginFlag(cmd)
	return cmd
}

func fetchGiftwrapsCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "fetch-giftwraps <relay>",
		Short: "Fetch and unwrap gift wraps addressed to the key file's identity",
		Long: `Fetch kind 1059 gift wraps tagged with our public key. This always logs
in, since relays normally only serve gift wraps to their recipient. Each wrap
is opened and the inner rumor printed, unless --raw is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.signer()
			if err != nil {
				return err
			}
			filter := nostr.Filter{
				Kinds: []int{kindGiftWrap},
				Tags:  nostr.TagMap{"p": []string{signer.PublicKey()}},
			}
			onEvent := func(wrap nostr.Event) error {
				if raw {
					return a.printEvent(wrap)
				}
				rumor, err := unwrap(signer, wrap)
				if err != nil {
					a.logger.Warn("could not open gift wrap", "id", wrap.ID, "error", err)
					return a.printEvent(wrap)
				}
				return a.printEvent(rumor)
			}
			return a.fetchAuthenticated(cmd.Context(), args[0], "fetch_giftwraps", filter, signer, onEvent)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the wraps without opening them")
	return cmd
}

// parseEventID accepts a hex id, a note or an nevent.
func parseEventID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "note1") || strings.HasPrefix(s, "nevent1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", s, err)
		}
		switch v := value.(type) {
		case string:
			return v, nil
		case nostr.EventPointer:
			return v.ID, nil
		default:
			return "", fmt.Errorf("unexpected %s payload %T", prefix, value)
		}
	}
	if b, err := hex.DecodeString(s); err != nil || len(b) != 32 || strings.ToLower(s) != s {
		return "", fmt.Errorf("event id must be 64 lowercase hex characters, a note or an nevent: %q", s)
	}
	return s, nil
}

// unwrap opens a NIP-59 gift wrap: the wrap holds a sealed event from the
// sender, and the seal holds the unsigned rumor.
func unwrap(s keys.Signer, wrap nostr.Event) (nostr.Event, error) {
	if wrap.Kind != kindGiftWrap {
		return nostr.Event{}, fmt.Errorf("kind %d is not a gift wrap", wrap.Kind)
	}
	sealJSON, err := s.Decrypt(wrap.PubKey, wrap.Content, keys.NIP44)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("decrypt wrap: %w", err)
	}
	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nostr.Event{}, fmt.Errorf("parse seal: %w", err)
	}
	if seal.Kind != kindSeal {
		return nostr.Event{}, fmt.Errorf("wrapped kind %d is not a seal", seal.Kind)
	}
	if err := keys.VerifyEvent(seal); err != nil {
		return nostr.Event{}, fmt.Errorf("seal: %w", err)
	}

	rumorJSON, err := s.Decrypt(seal.PubKey, seal.Content, keys.NIP44)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("decrypt seal: %w", err)
	}
	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nostr.Event{}, fmt.Errorf("parse rumor: %w", err)
	}
	if rumor.PubKey != seal.PubKey {
		return nostr.Event{}, errors.New("rumor author does not match the seal")
	}
	return rumor, nil
}
