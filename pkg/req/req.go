// Package req runs one subscription against a relay, answering NIP-42 auth
// challenges and resubmitting the subscription once the relay accepts our
// credential.
package req

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip42"

	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

const (
	// DefaultSubscriptionID is used when Config.SubscriptionID is empty.
	DefaultSubscriptionID = "subscription-id"

	// DefaultMaxChallenges bounds how many AUTH challenges one exchange answers.
	DefaultMaxChallenges = 3

	// KindClientAuth is the NIP-42 credential event kind.
	KindClientAuth = nostr.KindClientAuthentication

	disconnectTimeout = 5 * time.Second
)

// Conn is the command/result pair of a relay connection. *probe.Probe
// satisfies it.
type Conn interface {
	Send(ctx context.Context, cmd protocol.Command) error
	Results() <-chan protocol.RelayMessage
}

// Signer signs credential events.
type Signer interface {
	PublicKey() string
	SignEvent(ev nostr.Event) (nostr.Event, error)
}

// Config holds the configuration for one exchange.
type Config struct {
	Logger *slog.Logger
	Signer Signer
	// OnEvent is called for every event delivered to our subscription,
	// whatever the auth state.
	OnEvent        func(nostr.Event)
	RelayURL       string
	SubscriptionID string
	Filter         nostr.Filter
	MaxChallenges  int
}

// Result summarizes a finished exchange.
type Result struct {
	// ClosedReason is set when the relay ended the subscription with CLOSED.
	ClosedReason  string
	State         State
	Events        int
	Challenges    int
	Authenticated bool
}

type exchange struct {
	conn    Conn
	logger  *slog.Logger
	cfg     Config
	fetch   protocol.FetchEvents
	pending string // id of the credential awaiting OK
	result  Result
}

// Run subscribes with cfg.Filter and drives the exchange until EOSE, CLOSED,
// NOTICE, an auth rejection, or ctx cancellation. It always sends exactly one
// Disconnect before returning.
func Run(ctx context.Context, conn Conn, cfg Config) (Result, error) {
	if cfg.SubscriptionID == "" {
		cfg.SubscriptionID = DefaultSubscriptionID
	}
	if cfg.MaxChallenges <= 0 {
		cfg.MaxChallenges = DefaultMaxChallenges
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	x := &exchange{
		conn:   conn,
		logger: logger.With("subscription", cfg.SubscriptionID),
		cfg:    cfg,
		fetch: protocol.FetchEvents{
			SubscriptionID: cfg.SubscriptionID,
			Filters:        []nostr.Filter{cfg.Filter},
		},
	}
	x.result.State = StateUnauthenticated

	if err := conn.Send(ctx, x.fetch); err != nil {
		return x.end(ctx, fmt.Errorf("send REQ: %w", err))
	}

	results := conn.Results()
	for {
		select {
		case <-ctx.Done():
			return x.end(ctx, ctx.Err())
		case msg, ok := <-results:
			if !ok {
				return x.end(ctx, ErrConnectionLost)
			}
			done, err := x.handle(ctx, msg)
			if done {
				return x.end(ctx, err)
			}
		}
	}
}

// handle advances the state machine by one relay message. done reports a
// terminal state.
func (x *exchange) handle(ctx context.Context, msg protocol.RelayMessage) (done bool, err error) {
	switch m := msg.(type) {
	case protocol.AuthChallenge:
		return x.answer(ctx, m.Challenge)

	case protocol.OK:
		if x.pending == "" || m.EventID != x.pending {
			x.logger.Debug("ignoring OK", "event_id", m.EventID, "accepted", m.Accepted)
			return false, nil
		}
		x.pending = ""
		if !m.Accepted {
			x.result.State = StateFailed
			return true, &AuthRejectedError{EventID: m.EventID, Reason: m.Reason}
		}
		x.result.State = StateAuthenticated
		x.result.Authenticated = true
		x.logger.Info("authenticated; resubmitting subscription")
		if err := x.conn.Send(ctx, x.fetch); err != nil {
			return true, fmt.Errorf("resubmit REQ: %w", err)
		}
		return false, nil

	case protocol.EventMessage:
		if m.SubscriptionID != x.cfg.SubscriptionID {
			return false, nil
		}
		x.result.Events++
		if x.cfg.OnEvent != nil {
			x.cfg.OnEvent(m.Event)
		}
		return false, nil

	case protocol.EOSE:
		if m.SubscriptionID != x.cfg.SubscriptionID {
			return false, nil
		}
		x.result.State = StateDone
		return true, nil

	case protocol.Closed:
		if m.SubscriptionID != x.cfg.SubscriptionID {
			return false, nil
		}
		if protocol.ReasonPrefix(m.Reason) == protocol.PrefixAuthRequired {
			switch x.result.State {
			case StateUnauthenticated, StateChallengeReceived:
				x.result.State = StateFailed
				return true, &ProtocolError{Reason: "subscription CLOSED for auth-required but no AUTH challenge was answered"}
			case StateCredentialSent:
				// The resubmission follows the OK.
				x.logger.Debug("subscription closed pending auth", "reason", m.Reason)
				return false, nil
			}
		}
		x.result.State = StateDone
		x.result.ClosedReason = m.Reason
		return true, nil

	case protocol.Notice:
		x.result.State = StateAborted
		return true, &AbortedError{Notice: m.Text}

	default:
		return false, nil
	}
}

// answer signs and sends a credential for challenge.
func (x *exchange) answer(ctx context.Context, challenge string) (done bool, err error) {
	if x.result.Challenges >= x.cfg.MaxChallenges {
		x.result.State = StateFailed
		return true, &ProtocolError{Reason: fmt.Sprintf("more than %d AUTH challenges", x.cfg.MaxChallenges)}
	}
	if x.cfg.Signer == nil {
		x.result.State = StateFailed
		return true, ErrNoSigner
	}
	x.result.Challenges++
	x.result.State = StateChallengeReceived

	ev, err := x.cfg.Signer.SignEvent(Credential(x.cfg.Signer.PublicKey(), x.cfg.RelayURL, challenge))
	if err != nil {
		x.result.State = StateFailed
		return true, fmt.Errorf("sign auth event: %w", err)
	}
	if err := x.conn.Send(ctx, protocol.Auth{Event: ev}); err != nil {
		x.result.State = StateFailed
		return true, fmt.Errorf("send AUTH: %w", err)
	}
	x.pending = ev.ID
	x.result.State = StateCredentialSent
	x.logger.Info("answered auth challenge", "event_id", ev.ID, "attempt", x.result.Challenges)
	return false, nil
}

// end sends the one Disconnect of this exchange and returns err.
func (x *exchange) end(ctx context.Context, err error) (Result, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if derr := x.conn.Send(dctx, protocol.Disconnect{}); derr != nil {
		x.logger.Warn("failed to send disconnect", "error", derr)
	}
	if err != nil {
		x.logger.Debug("exchange ended with error", "state", x.result.State.String(), "error", err)
	}
	return x.result, err
}

// Credential returns the unsigned NIP-42 auth event for a relay and challenge.
func Credential(pubkey, relayURL, challenge string) nostr.Event {
	return nip42.CreateUnsignedAuthEvent(challenge, pubkey, relayURL)
}
