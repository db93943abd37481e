package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
	"github.com/codeGROOVE-dev/relayprobe/pkg/probe"
	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

const testNote = "Hello. This is a test to see if this relay accepts notes from new people. " +
	"This is from an ephemeral keypair, and this note can be ignored or deleted."

// verdict is a relay's answer to one published event.
type verdict struct {
	Reason   string
	Answered bool
	Accepted bool
}

func postCmd(a *app) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "post <relay> [event.json|-]",
		Short: "Publish one signed event, read from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "-"
			if len(args) == 2 {
				name = args[1]
			}
			ev, err := a.readEvent(name)
			if err != nil {
				return err
			}
			verdicts, err := a.publish(cmd.Context(), args[0], []nostr.Event{ev}, wait)
			if err != nil {
				return err
			}
			return report(a.out, ev.ID, verdicts[ev.ID])
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the relay's OK")
	return cmd
}

func postDirCmd(a *app) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "post-dir <relay> <dir>",
		Short: "Publish every signed event file in a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(args[1])
			if err != nil {
				return err
			}
			var events []nostr.Event
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				ev, err := a.readEvent(filepath.Join(args[1], e.Name()))
				if err != nil {
					return err
				}
				events = append(events, ev)
			}
			if len(events) == 0 {
				return fmt.Errorf("no events in %s", args[1])
			}

			verdicts, err := a.publish(cmd.Context(), args[0], events, wait)
			if err != nil {
				return err
			}
			var failed int
			for _, ev := range events {
				if err := report(a.out, ev.ID, verdicts[ev.ID]); err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d events were not accepted", failed, len(events))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the relay's OKs")
	return cmd
}

func testRelayCmd(a *app) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "test-relay <relay>",
		Short: "Check whether the relay accepts and serves a note from a brand new key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.logger.Info("generating keypair")
			signer, err := keys.GenerateSigner()
			if err != nil {
				return err
			}
			ev, err := signer.SignEvent(nostr.Event{
				CreatedAt: nostr.Now(),
				Kind:      nostr.KindTextNote,
				Tags:      nostr.Tags{},
				Content:   testNote,
			})
			if err != nil {
				return err
			}
			res, err := a.testRelay(cmd.Context(), args[0], ev, wait)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "accepted: %t", res.post.Accepted)
			if res.post.Reason != "" {
				fmt.Fprintf(a.out, " (%s)", res.post.Reason)
			}
			fmt.Fprintf(a.out, "\nserved back: %t\n", res.found)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", time.Second, "how long to wait for the OK before asking for the note anyway")
	return cmd
}

// readEvent reads and verifies one event; "-" is stdin.
func (a *app) readEvent(name string) (nostr.Event, error) {
	ev, err := a.readUnsigned(name)
	if err != nil {
		return nostr.Event{}, err
	}
	if err := keys.VerifyEvent(ev); err != nil {
		return nostr.Event{}, fmt.Errorf("%s: %w", name, err)
	}
	return ev, nil
}

// readUnsigned reads one event without checking its id or signature.
func (a *app) readUnsigned(name string) (nostr.Event, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(a.in)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nostr.Event{}, err
	}
	var ev nostr.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nostr.Event{}, fmt.Errorf("%s: %w", name, err)
	}
	return ev, nil
}

// publish posts events in order and collects the relay's OKs. The connection
// is closed once every event has an answer, when wait runs out after the last
// post, or on a NOTICE.
func (a *app) publish(ctx context.Context, relayURL string, events []nostr.Event, wait time.Duration) (map[string]verdict, error) {
	exit := []probe.ExitPattern{probe.ExitOnNotice()}
	if len(events) == 1 {
		id := events[0].ID
		exit = append(exit, probe.ExitOnOK(id, true), probe.ExitOnOK(id, false))
	}
	p := a.newProbe(exit...)
	done := connect(ctx, p, relayURL)

	verdicts := make(map[string]verdict, len(events))
	pending := make(map[string]bool, len(events))
	for _, ev := range events {
		pending[ev.ID] = true
	}

	// Posting may block on a full inbox, so it runs beside the reader.
	posted := make(chan struct{})
	go func() {
		defer close(posted)
		for _, ev := range events {
			if err := p.Send(ctx, protocol.PostEvent{Event: ev}); err != nil {
				a.logger.Debug("EVENT not queued", "id", ev.ID, "error", err)
				return
			}
		}
	}()

	var timeout <-chan time.Time
	results := p.Results()
	for results != nil {
		select {
		case <-posted:
			posted = nil
			timeout = time.After(wait)
		case <-timeout:
			timeout = nil
			a.logger.Warn("gave up waiting for OK", "unanswered", len(pending))
			_ = p.Send(ctx, protocol.Disconnect{})
		case msg, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			m, isOK := msg.(protocol.OK)
			if !isOK || !pending[m.EventID] {
				continue
			}
			delete(pending, m.EventID)
			verdicts[m.EventID] = verdict{Answered: true, Accepted: m.Accepted, Reason: m.Reason}
			if len(pending) == 0 {
				_ = p.Send(ctx, protocol.Disconnect{})
			}
		}
	}
	return verdicts, done()
}

// report prints one line per event and returns an error unless the relay
// accepted it.
func report(w io.Writer, id string, v verdict) error {
	line := id + ": "
	var err error
	switch {
	case !v.Answered:
		line += "no answer"
		err = errors.New("relay did not answer")
	case v.Accepted:
		line += "accepted"
	default:
		line += "rejected"
		err = fmt.Errorf("relay rejected event: %s", v.Reason)
	}
	if v.Reason != "" {
		line += " (" + v.Reason + ")"
	}
	fmt.Fprintln(w, line)
	return err
}

type testResult struct {
	post  verdict
	found bool
}

// testRelay posts ev and then subscribes to its id on the same connection.
func (a *app) testRelay(ctx context.Context, relayURL string, ev nostr.Event, wait time.Duration) (testResult, error) {
	const subID = "fetch_by_id"
	p := a.newProbe(probe.ExitOnSubscriptionEnd(subID)...)
	done := connect(ctx, p, relayURL)

	var res testResult
	if err := p.Send(ctx, protocol.PostEvent{Event: ev}); err != nil {
		return res, errors.Join(err, done())
	}

	asked := false
	ask := func() {
		asked = true
		fetch := protocol.FetchEvents{SubscriptionID: subID, Filters: []nostr.Filter{{IDs: []string{ev.ID}}}}
		if err := p.Send(ctx, fetch); err != nil {
			a.logger.Debug("REQ not queued", "error", err)
		}
	}

	timeout := time.After(wait)
	results := p.Results()
	for results != nil {
		select {
		case <-timeout:
			timeout = nil
			if !asked {
				ask()
			}
		case msg, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			switch m := msg.(type) {
			case protocol.OK:
				if m.EventID == ev.ID && !res.post.Answered {
					res.post = verdict{Answered: true, Accepted: m.Accepted, Reason: m.Reason}
					if !asked {
						ask()
					}
				}
			case protocol.EventMessage:
				if m.SubscriptionID == subID && m.Event.ID == ev.ID {
					res.found = true
				}
			}
		}
	}
	return res, done()
}
