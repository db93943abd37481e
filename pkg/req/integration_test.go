package req

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/codeGROOVE-dev/relayprobe/internal/relaytest"
	"github.com/codeGROOVE-dev/relayprobe/pkg/diag"
	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
	"github.com/codeGROOVE-dev/relayprobe/pkg/probe"
	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

// authRelay serves events only to connections that have authenticated with
// a valid NIP-42 credential.
type authRelay struct {
	mu     sync.Mutex
	authed bool
}

func (r *authRelay) handle(t *testing.T) relaytest.Handler {
	return func(s *relaytest.Session, cmd protocol.Command) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch c := cmd.(type) {
		case protocol.FetchEvents:
			if !r.authed {
				_ = s.Send(protocol.AuthChallenge{Challenge: "xyz"})
				_ = s.Send(protocol.Closed{SubscriptionID: c.SubscriptionID, Reason: "auth-required: members"})
				return
			}
			_ = s.Send(protocol.EventMessage{SubscriptionID: c.SubscriptionID, Event: relaytest.Event(1, "members only")})
			_ = s.Send(protocol.EOSE{SubscriptionID: c.SubscriptionID})
		case protocol.Auth:
			if err := keys.VerifyEvent(c.Event); err != nil {
				t.Errorf("relay got invalid credential: %v", err)
			}
			if c.Event.Kind != KindClientAuth || tagValue(c.Event.Tags, "challenge") != "xyz" {
				t.Errorf("relay got credential %+v", c.Event)
			}
			r.authed = true
			_ = s.Send(protocol.OK{EventID: c.Event.ID, Accepted: true})
		}
	}
}

func TestRunOverProbe(t *testing.T) {
	ar := &authRelay{}
	relay := relaytest.New(t, ar.handle(t))

	signer, err := keys.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	p := probe.New(probe.Config{Logger: quietLogger(), Mirror: diag.Discard})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- p.ConnectAndListen(ctx, relay.URL) }()

	var got []nostr.Event
	res, err := Run(ctx, p, Config{
		Logger:   quietLogger(),
		Signer:   signer,
		RelayURL: relay.URL,
		Filter:   nostr.Filter{Kinds: []int{1}},
		OnEvent:  func(ev nostr.Event) { got = append(got, ev) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("ConnectAndListen() error = %v", err)
	}

	if !res.Authenticated || res.Challenges != 1 {
		t.Errorf("Result = %+v", res)
	}
	if len(got) != 1 || got[0].Content != "members only" {
		t.Errorf("events = %+v", got)
	}

	var reqs []string
	for _, text := range relay.Texts() {
		if cmd, err := protocol.DecodeCommand(text); err == nil && cmd.Type() == protocol.TagReq {
			reqs = append(reqs, text)
		}
	}
	if len(reqs) != 2 || reqs[0] != reqs[1] {
		t.Errorf("relay saw REQ frames %v, want the same frame twice", reqs)
	}
}
