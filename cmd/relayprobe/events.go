package main

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"
)

func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [event.json|-]",
		Short: "Check an event's id and signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := "-"
			if len(args) == 1 {
				name = args[0]
			}
			ev, err := a.readEvent(name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "valid: %s (kind %d by %s)\n", ev.ID, ev.Kind, ev.PubKey)
			return err
		},
	}
}

func signCmd(a *app) *cobra.Command {
	var (
		kind      int
		content   string
		tags      []string
		createdAt int64
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build an event and sign it with the key file",
		Example: `  relayprobe sign --kind 1 --content hello -t t,probe
  relayprobe sign --kind 10002 -t r,wss://relay.example.com,write | relayprobe post wss://relay.example.com`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}
			ts := nostr.Now()
			if createdAt != 0 {
				ts = nostr.Timestamp(createdAt)
			}

			signer, err := a.signer()
			if err != nil {
				return err
			}
			ev, err := signer.SignEvent(nostr.Event{
				CreatedAt: ts,
				Kind:      kind,
				Tags:      parsed,
				Content:   content,
			})
			if err != nil {
				return err
			}
			return a.printEvent(ev)
		},
	}
	cmd.Flags().IntVar(&kind, "kind", nostr.KindTextNote, "event kind")
	cmd.Flags().StringVar(&content, "content", "", "event content")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "tag as name,value[,value...], repeatable")
	cmd.Flags().Int64Var(&createdAt, "created-at", 0, "unix timestamp (default now)")
	return cmd
}

// parseTags turns "p,abc,wss://relay" into ["p","abc","wss://relay"].
func parseTags(specs []string) (nostr.Tags, error) {
	tags := nostr.Tags{}
	for _, spec := range specs {
		tag := nostr.Tag(strings.Split(spec, ","))
		if len(tag) < 2 || tag[0] == "" {
			return nil, fmt.Errorf("tag %q: want name,value[,value...]", spec)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}
