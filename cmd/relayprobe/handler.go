package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"
)

func handlerAdvertisementCmd(a *app) *cobra.Command {
	var (
		metadata   string
		identifier string
		url        string
		kinds      []int
	)
	cmd := &cobra.Command{
		Use:   "handler-advertisement",
		Short: "Sign a NIP-89 handler information event (kind 31990)",
		Example: `  relayprobe handler-advertisement -d viewer -k 1 -k 30023 \
    --url 'https://viewer.example.com/a/<bech32>' --metadata '{"name":"viewer"}'`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ev, err := handlerInformation(identifier, kinds, url, metadata)
			if err != nil {
				return err
			}
			signer, err := a.signer()
			if err != nil {
				return err
			}
			ev, err = signer.SignEvent(ev)
			if err != nil {
				return err
			}
			return a.printEvent(ev)
		},
	}
	cmd.Flags().StringVarP(&identifier, "identifier", "d", "", "d tag of the advertisement")
	cmd.Flags().IntSliceVarP(&kinds, "kind", "k", nil, "event kind the handler understands, repeatable")
	cmd.Flags().StringVarP(&url, "url", "u", "", "web handler URL with a <bech32> placeholder")
	cmd.Flags().StringVarP(&metadata, "metadata", "m", "", "profile-style metadata JSON used as the content")
	_ = cmd.MarkFlagRequired("identifier")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// handlerInformation builds the unsigned advertisement. The metadata is kept
// as given once it parses as a JSON object.
func handlerInformation(identifier string, kinds []int, url, metadata string) (nostr.Event, error) {
	if len(kinds) == 0 {
		return nostr.Event{}, errors.New("at least one --kind is required")
	}
	if !strings.Contains(url, "<bech32>") {
		return nostr.Event{}, fmt.Errorf("url %q has no <bech32> placeholder", url)
	}
	if metadata != "" {
		var fields map[string]any
		if err := json.Unmarshal([]byte(metadata), &fields); err != nil || fields == nil {
			return nostr.Event{}, fmt.Errorf("metadata is not a JSON object: %q", metadata)
		}
	}

	tags := nostr.Tags{{"d", identifier}}
	for _, k := range kinds {
		if k < 0 || k > 65535 {
			return nostr.Event{}, fmt.Errorf("kind %d out of range", k)
		}
		tags = append(tags, nostr.Tag{"k", strconv.Itoa(k)})
	}
	tags = append(tags, nostr.Tag{"web", url})

	return nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindHandlerInformation,
		Tags:      tags,
		Content:   metadata,
	}, nil
}
