package req

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/codeGROOVE-dev/relayprobe/internal/relaytest"
	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

const relayURL = "wss://relay.example.com"

// fakeConn replays scripted relay messages and records commands.
type fakeConn struct {
	results chan protocol.RelayMessage
	mu      sync.Mutex
	sent    []protocol.Command
}

func newFakeConn(script ...protocol.RelayMessage) *fakeConn {
	c := &fakeConn{results: make(chan protocol.RelayMessage, len(script)+1)}
	for _, m := range script {
		c.results <- m
	}
	return c
}

func (c *fakeConn) Send(_ context.Context, cmd protocol.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *fakeConn) Results() <-chan protocol.RelayMessage {
	return c.results
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, cmd := range c.sent {
		out[i] = cmd.Type()
	}
	return out
}

// fakeSigner issues ids 1, 2, 3... so scripts can refer to them.
type fakeSigner struct {
	signed []nostr.Event
	fail   bool
}

func credentialID(n int) string {
	return fmt.Sprintf("%064x", n)
}

func (*fakeSigner) PublicKey() string {
	return "ab" + fmt.Sprintf("%062x", 0)
}

func (s *fakeSigner) SignEvent(ev nostr.Event) (nostr.Event, error) {
	if s.fail {
		return nostr.Event{}, errors.New("signer unavailable")
	}
	s.signed = append(s.signed, ev)
	ev.ID = credentialID(len(s.signed))
	ev.Sig = fmt.Sprintf("%0128x", len(s.signed))
	return ev, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(signer Signer) Config {
	return Config{
		Logger:   quietLogger(),
		Signer:   signer,
		RelayURL: relayURL,
		Filter:   nostr.Filter{Kinds: []int{1}, Limit: 5},
	}
}

func runWithTimeout(t *testing.T, conn Conn, cfg Config) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Run(ctx, conn, cfg)
}

func tagValue(tags nostr.Tags, key string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1]
		}
	}
	return ""
}

func sameTypes(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent %v, want %v", got, want)
		}
	}
}

func TestAuthThenResubmit(t *testing.T) {
	sub := DefaultSubscriptionID
	conn := newFakeConn(
		protocol.EventMessage{SubscriptionID: sub, Event: relaytest.Event(1, "public")},
		protocol.AuthChallenge{Challenge: "xyz"},
		protocol.Closed{SubscriptionID: sub, Reason: "auth-required: members only"},
		protocol.OK{EventID: credentialID(1), Accepted: true},
		protocol.OK{EventID: credentialID(1), Accepted: true},
		protocol.EventMessage{SubscriptionID: "someone-else", Event: relaytest.Event(9, "")},
		protocol.EventMessage{SubscriptionID: sub, Event: relaytest.Event(2, "private")},
		protocol.EOSE{SubscriptionID: sub},
	)
	signer := &fakeSigner{}
	cfg := testConfig(signer)
	var contents []string
	cfg.OnEvent = func(ev nostr.Event) { contents = append(contents, ev.Content) }

	res, err := runWithTimeout(t, conn, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	sameTypes(t, conn.types(), protocol.TagReq, protocol.TagAuth, protocol.TagReq, "DISCONNECT")

	first := conn.sent[0].(protocol.FetchEvents)  //nolint:errcheck,forcetypeassert // checked above
	second := conn.sent[2].(protocol.FetchEvents) //nolint:errcheck,forcetypeassert // checked above
	a, _ := protocol.Encode(first)                //nolint:errcheck // encodes in other tests
	b, _ := protocol.Encode(second)               //nolint:errcheck // encodes in other tests
	if a != b || first.SubscriptionID != sub {
		t.Errorf("resubmitted %s, want %s", b, a)
	}

	auth := conn.sent[1].(protocol.Auth).Event //nolint:errcheck,forcetypeassert // checked above
	if auth.Kind != KindClientAuth {
		t.Errorf("auth kind = %d, want %d", auth.Kind, KindClientAuth)
	}
	if got := tagValue(auth.Tags, "relay"); got != relayURL {
		t.Errorf("relay tag = %q, want %q", got, relayURL)
	}
	if got := tagValue(auth.Tags, "challenge"); got != "xyz" {
		t.Errorf("challenge tag = %q, want xyz", got)
	}
	if auth.PubKey != signer.PublicKey() || auth.Content != "" {
		t.Errorf("auth event = %+v", auth)
	}

	if !res.Authenticated || res.State != StateDone || res.Challenges != 1 || res.Events != 2 {
		t.Errorf("Result = %+v", res)
	}
	if len(contents) != 2 || contents[0] != "public" || contents[1] != "private" {
		t.Errorf("OnEvent saw %v", contents)
	}
}

func TestAuthRejected(t *testing.T) {
	conn := newFakeConn(
		protocol.AuthChallenge{Challenge: "xyz"},
		protocol.OK{EventID: credentialID(1), Accepted: false, Reason: "restricted: not a member"},
		protocol.EOSE{SubscriptionID: DefaultSubscriptionID},
	)
	res, err := runWithTimeout(t, conn, testConfig(&fakeSigner{}))

	var rejected *AuthRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Run() error = %v, want *AuthRejectedError", err)
	}
	if rejected.Reason != "restricted: not a member" {
		t.Errorf("reason = %q", rejected.Reason)
	}
	sameTypes(t, conn.types(), protocol.TagReq, protocol.TagAuth, "DISCONNECT")
	if res.State != StateFailed || !res.State.Terminal() || res.Authenticated {
		t.Errorf("Result = %+v", res)
	}
}

func TestClosedAuthRequiredWithoutChallenge(t *testing.T) {
	conn := newFakeConn(protocol.Closed{SubscriptionID: DefaultSubscriptionID, Reason: "auth-required: hi"})
	_, err := runWithTimeout(t, conn, testConfig(&fakeSigner{}))

	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("Run() error = %v, want *ProtocolError", err)
	}
	sameTypes(t, conn.types(), protocol.TagReq, "DISCONNECT")
}

func TestClosedIsNormalEnd(t *testing.T) {
	conn := newFakeConn(
		protocol.Closed{SubscriptionID: "other", Reason: "error: not ours"},
		protocol.Closed{SubscriptionID: DefaultSubscriptionID, Reason: "rate-limited: slow down"},
	)
	res, err := runWithTimeout(t, conn, testConfig(&fakeSigner{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateDone || res.ClosedReason != "rate-limited: slow down" {
		t.Errorf("Result = %+v", res)
	}
	sameTypes(t, conn.types(), protocol.TagReq, "DISCONNECT")
}

func TestNoticeAborts(t *testing.T) {
	conn := newFakeConn(protocol.Notice{Text: "bad filter"})
	res, err := runWithTimeout(t, conn, testConfig(nil))

	var aborted *AbortedError
	if !errors.As(err, &aborted) || aborted.Notice != "bad filter" {
		t.Fatalf("Run() error = %v, want *AbortedError", err)
	}
	if res.State != StateAborted {
		t.Errorf("State = %v", res.State)
	}
	sameTypes(t, conn.types(), protocol.TagReq, "DISCONNECT")
}

func TestChallengeCeiling(t *testing.T) {
	conn := newFakeConn(
		protocol.AuthChallenge{Challenge: "a"},
		protocol.AuthChallenge{Challenge: "b"},
		protocol.AuthChallenge{Challenge: "c"},
	)
	cfg := testConfig(&fakeSigner{})
	cfg.MaxChallenges = 2
	res, err := runWithTimeout(t, conn, cfg)

	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("Run() error = %v, want *ProtocolError", err)
	}
	if res.Challenges != 2 {
		t.Errorf("answered %d challenges, want 2", res.Challenges)
	}
	sameTypes(t, conn.types(), protocol.TagReq, protocol.TagAuth, protocol.TagAuth, "DISCONNECT")
}

func TestNewChallengeReplacesPendingCredential(t *testing.T) {
	conn := newFakeConn(
		protocol.AuthChallenge{Challenge: "a"},
		protocol.AuthChallenge{Challenge: "b"},
		protocol.OK{EventID: credentialID(1), Accepted: false, Reason: "stale"},
		protocol.OK{EventID: credentialID(2), Accepted: true},
		protocol.EOSE{SubscriptionID: DefaultSubscriptionID},
	)
	res, err := runWithTimeout(t, conn, testConfig(&fakeSigner{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	sameTypes(t, conn.types(), protocol.TagReq, protocol.TagAuth, protocol.TagAuth, protocol.TagReq, "DISCONNECT")
	if !res.Authenticated {
		t.Errorf("Result = %+v", res)
	}
}

func TestMissingSigner(t *testing.T) {
	conn := newFakeConn(protocol.AuthChallenge{Challenge: "a"})
	if _, err := runWithTimeout(t, conn, testConfig(nil)); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("Run() error = %v, want ErrNoSigner", err)
	}
	sameTypes(t, conn.types(), protocol.TagReq, "DISCONNECT")

	conn = newFakeConn(protocol.AuthChallenge{Challenge: "a"})
	if _, err := runWithTimeout(t, conn, testConfig(&fakeSigner{fail: true})); err == nil {
		t.Fatal("Run() with failing signer succeeded")
	}
	sameTypes(t, conn.types(), protocol.TagReq, "DISCONNECT")
}

func TestConnectionLost(t *testing.T) {
	conn := newFakeConn(protocol.EventMessage{SubscriptionID: DefaultSubscriptionID, Event: relaytest.Event(1, "")})
	close(conn.results)

	res, err := runWithTimeout(t, conn, testConfig(nil))
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Run() error = %v, want ErrConnectionLost", err)
	}
	if res.Events != 1 {
		t.Errorf("Events = %d, want 1", res.Events)
	}
	sameTypes(t, conn.types(), protocol.TagReq, "DISCONNECT")
}

func TestContextCancelled(t *testing.T) {
	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, conn, testConfig(nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	got := conn.types()
	if got[len(got)-1] != "DISCONNECT" {
		t.Errorf("sent %v, want a trailing DISCONNECT", got)
	}
}

func TestCustomSubscriptionID(t *testing.T) {
	conn := newFakeConn(
		protocol.EOSE{SubscriptionID: DefaultSubscriptionID},
		protocol.EOSE{SubscriptionID: "mine"},
	)
	cfg := testConfig(nil)
	cfg.SubscriptionID = "mine"
	if _, err := runWithTimeout(t, conn, cfg); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if remaining := len(conn.results); remaining != 0 {
		t.Errorf("%d messages left unread", remaining)
	}
	if got := conn.sent[0].(protocol.FetchEvents).SubscriptionID; got != "mine" { //nolint:errcheck,forcetypeassert // first command is REQ
		t.Errorf("subscription id = %q", got)
	}
}

var errInboxGone = errors.New("inbox gone")

// authRefusingConn accepts everything except AUTH.
type authRefusingConn struct {
	*fakeConn
}

func (c authRefusingConn) Send(ctx context.Context, cmd protocol.Command) error {
	if _, ok := cmd.(protocol.Auth); ok {
		return errInboxGone
	}
	return c.fakeConn.Send(ctx, cmd)
}

func TestAuthSendFailureFails(t *testing.T) {
	conn := authRefusingConn{newFakeConn(protocol.AuthChallenge{Challenge: "xyz"})}
	res, err := runWithTimeout(t, conn, testConfig(&fakeSigner{}))
	if !errors.Is(err, errInboxGone) {
		t.Fatalf("Run() error = %v, want the send failure", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want failed", res.State)
	}
	if res.Challenges != 1 {
		t.Errorf("Challenges = %d, want 1", res.Challenges)
	}
	sameTypes(t, conn.types(), protocol.TagReq, "DISCONNECT")
}

func TestCredential(t *testing.T) {
	ev := Credential("pk", relayURL, "c")
	if ev.Kind != KindClientAuth || ev.PubKey != "pk" || len(ev.Tags) != 2 {
		t.Fatalf("Credential() = %+v", ev)
	}
	if ev.CreatedAt == 0 {
		t.Error("Credential() has no timestamp")
	}
	if tagValue(ev.Tags, "relay") != relayURL || tagValue(ev.Tags, "challenge") != "c" {
		t.Errorf("Credential() tags = %v", ev.Tags)
	}
}

func TestStateString(t *testing.T) {
	for s := StateUnauthenticated; s <= StateAborted; s++ {
		if s.String() == "unknown" {
			t.Errorf("State(%d) has no name", s)
		}
	}
	if StateCredentialSent.Terminal() || !StateDone.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
}
