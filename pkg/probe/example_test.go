package probe_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/codeGROOVE-dev/relayprobe/pkg/probe"
	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

func ExampleProbe() {
	p := probe.New(probe.Config{
		Exit: probe.ExitOnSubscriptionEnd("notes"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	go func() {
		if err := p.ConnectAndListen(ctx, "wss://relay.example.com"); err != nil {
			log.Printf("relay connection: %v", err)
		}
	}()

	// Commands may be queued before the connection is open.
	req := protocol.FetchEvents{
		SubscriptionID: "notes",
		Filters:        []nostr.Filter{{Kinds: []int{nostr.KindTextNote}, Limit: 10}},
	}
	if err := p.Send(ctx, req); err != nil {
		log.Fatal(err)
	}

	for msg := range p.Results() {
		if ev, ok := msg.(protocol.EventMessage); ok {
			fmt.Println(ev.Event.Content)
		}
	}
}

func ExampleProbe_disconnect() {
	p := probe.New(probe.Config{})

	done := make(chan error, 1)
	go func() { done <- p.ConnectAndListen(context.Background(), "wss://relay.example.com") }()

	// Post, then hang up. Disconnect is safe to send more than once.
	ev := nostr.Event{ /* a signed event */ }
	_ = p.Send(context.Background(), protocol.PostEvent{Event: ev})
	_ = p.Send(context.Background(), protocol.Disconnect{})

	if err := <-done; err != nil {
		log.Printf("relay connection: %v", err)
	}
}
