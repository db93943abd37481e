// Package probe owns one WebSocket connection to a Nostr relay and lets a
// caller drive it through a command inbox while receiving every relay message
// through a result channel.
//
// A single goroutine, the one running ConnectAndListen, owns the socket. It
// waits on whichever is ready first: the keepalive ticker, the command inbox,
// or the next inbound frame. Callers never touch the socket.
//
// Basic usage:
//
//	p := probe.New(probe.Config{
//	    Exit: probe.ExitOnSubscriptionEnd("dump"),
//	})
//
//	go func() {
//	    if err := p.ConnectAndListen(ctx, "wss://relay.example.com"); err != nil {
//	        log.Print(err)
//	    }
//	}()
//
//	_ = p.Send(ctx, protocol.FetchEvents{SubscriptionID: "dump", Filters: []nostr.Filter{{}}})
//	for msg := range p.Results() {
//	    fmt.Println(msg.Type())
//	}
//
// Every frame is also mirrored to a diag.Mirror, stderr by default. To keep
// a probe quiet:
//
//	config.Mirror = diag.Discard
//	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
//
// There is no reconnect. Once ConnectAndListen returns, the probe is spent;
// Send returns ErrClosed for everything except Disconnect.
package probe
