package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/nbd-wtf/go-nostr"

	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
	"github.com/codeGROOVE-dev/relayprobe/pkg/probe"
	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
	"github.com/codeGROOVE-dev/relayprobe/pkg/req"
)

func (a *app) newProbe(exit ...probe.ExitPattern) *probe.Probe {
	return probe.New(probe.Config{
		Logger:         a.logger,
		Mirror:         a.mirror,
		Exit:           exit,
		ConnectTimeout: a.cfg.ConnectTimeout,
		PingInterval:   a.cfg.PingInterval,
		Capacity:       a.cfg.InboxCapacity,
	})
}

// connect runs p against relayURL in the background. The returned function
// waits for the connection to end and reports why.
func connect(ctx context.Context, p *probe.Probe, relayURL string) (wait func() error) {
	errCh := make(chan error, 1)
	go func() { errCh <- p.ConnectAndListen(ctx, relayURL) }()
	return func() error { return <-errCh }
}

// signer loads the key file, prompting for its password if it is encrypted.
func (a *app) signer() (*keys.KeySigner, error) {
	s, err := keys.LoadSigner(a.cfg.KeyFile, func() (string, error) {
		return a.prompt("Password: ")
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w (create one with 'relayprobe keygen')", err)
	}
	return s, err
}

func (a *app) printEvent(ev nostr.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

// fetch subscribes to filter and hands every event for the subscription to
// onEvent. Without login the connection ends at the first EOSE, CLOSED or
// NOTICE; with login the NIP-42 exchange runs on top.
func (a *app) fetch(ctx context.Context, relayURL, subID string, filter nostr.Filter, login bool, onEvent func(nostr.Event) error) error {
	if login {
		signer, err := a.signer()
		if err != nil {
			return err
		}
		return a.fetchAuthenticated(ctx, relayURL, subID, filter, signer, onEvent)
	}

	p := a.newProbe(probe.ExitOnSubscriptionEnd(subID)...)
	wait := connect(ctx, p, relayURL)

	if err := p.Send(ctx, protocol.FetchEvents{SubscriptionID: subID, Filters: []nostr.Filter{filter}}); err != nil {
		a.logger.Debug("REQ not queued", "error", err)
	}

	var outErr error
	for msg := range p.Results() {
		switch m := msg.(type) {
		case protocol.EventMessage:
			if m.SubscriptionID == subID && outErr == nil {
				outErr = onEvent(m.Event)
			}
		case protocol.Closed:
			if m.SubscriptionID == subID {
				a.logger.Warn("relay closed the subscription", "reason", m.Reason)
			}
		}
	}
	if err := wait(); err != nil {
		return err
	}
	return outErr
}

// fetchAuthenticated runs the subscription through req.Run, answering AUTH
// challenges as signer.
func (a *app) fetchAuthenticated(ctx context.Context, relayURL, subID string, filter nostr.Filter, signer req.Signer, onEvent func(nostr.Event) error) error {
	p := a.newProbe()
	wait := connect(ctx, p, relayURL)

	var outErr error
	res, runErr := req.Run(ctx, p, req.Config{
		Logger:         a.logger,
		Signer:         signer,
		RelayURL:       relayURL,
		SubscriptionID: subID,
		Filter:         filter,
		MaxChallenges:  a.cfg.MaxAuthChallenges,
		OnEvent: func(ev nostr.Event) {
			if outErr == nil {
				outErr = onEvent(ev)
			}
		},
	})
	connErr := wait()

	a.logger.Info("subscription finished",
		"state", res.State.String(),
		"events", res.Events,
		"challenges", res.Challenges,
		"authenticated", res.Authenticated)

	switch {
	case runErr == nil:
	case connErr != nil && errors.Is(runErr, req.ErrConnectionLost):
		return connErr
	default:
		var rejected *req.AuthRejectedError
		if errors.As(runErr, &rejected) {
			return fmt.Errorf("AUTH failed: %s", rejected.Reason)
		}
		return runErr
	}
	if res.ClosedReason != "" {
		a.logger.Warn("relay closed the subscription", "reason", res.ClosedReason)
	}
	if connErr != nil {
		return connErr
	}
	return outErr
}
