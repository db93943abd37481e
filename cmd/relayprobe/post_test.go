package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/codeGROOVE-dev/relayprobe/internal/relaytest"
	"github.com/codeGROOVE-dev/relayprobe/pkg/keys"
	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

// store is a relay that accepts events unless their content says otherwise
// and serves them back by id.
type store struct {
	events map[string]nostr.Event
	mu     sync.Mutex
}

func newStore() *store {
	return &store{events: make(map[string]nostr.Event)}
}

func (st *store) handle(s *relaytest.Session, cmd protocol.Command) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch c := cmd.(type) {
	case protocol.PostEvent:
		if strings.HasPrefix(c.Event.Content, "reject") {
			_ = s.Send(protocol.OK{EventID: c.Event.ID, Reason: "blocked: not welcome"})
			return
		}
		st.events[c.Event.ID] = c.Event
		_ = s.Send(protocol.OK{EventID: c.Event.ID, Accepted: true})
	case protocol.FetchEvents:
		for _, f := range c.Filters {
			for _, id := range f.IDs {
				if ev, ok := st.events[id]; ok {
					_ = s.Send(protocol.EventMessage{SubscriptionID: c.SubscriptionID, Event: ev})
				}
			}
		}
		_ = s.Send(protocol.EOSE{SubscriptionID: c.SubscriptionID})
	}
}

func signedNote(t *testing.T, content string) nostr.Event {
	t.Helper()
	s, err := keys.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	ev, err := s.SignEvent(nostr.Event{CreatedAt: nostr.Now(), Kind: 1, Content: content})
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func eventJSON(t *testing.T, ev nostr.Event) string {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestPostFromStdin(t *testing.T) {
	relay := relaytest.New(t, newStore().handle)
	ev := signedNote(t, "hello relay")
	ta := newTestApp(t, eventJSON(t, ev))

	if err := ta.run(t, "post", relay.URL); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := ta.stdout.String(); got != ev.ID+": accepted\n" {
		t.Errorf("stdout = %q", got)
	}
	closing := relay.WaitFor(t, relaytest.Close, 2*time.Second)
	if closing.Code != 1000 {
		t.Errorf("close code = %d, want 1000", closing.Code)
	}
}

func TestPostRejected(t *testing.T) {
	relay := relaytest.New(t, newStore().handle)
	ev := signedNote(t, "reject me")
	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, []byte(eventJSON(t, ev)), 0o600); err != nil {
		t.Fatal(err)
	}
	ta := newTestApp(t, "")

	err := ta.run(t, "post", relay.URL, path)
	if err == nil || !strings.Contains(err.Error(), "blocked: not welcome") {
		t.Fatalf("post: err = %v, want the rejection reason", err)
	}
	if !strings.Contains(ta.stdout.String(), "rejected (blocked: not welcome)") {
		t.Errorf("stdout = %q", ta.stdout.String())
	}
}

func TestPostRefusesBadSignature(t *testing.T) {
	relay := relaytest.New(t, newStore().handle)
	ev := signedNote(t, "hello")
	ev.Content = "tampered"
	ta := newTestApp(t, eventJSON(t, ev))

	if err := ta.run(t, "post", relay.URL); err == nil {
		t.Fatal("post accepted a tampered event")
	}
	if texts := relay.Texts(); len(texts) != 0 {
		t.Errorf("relay saw %v", texts)
	}
}

func TestPostNoAnswer(t *testing.T) {
	relay := relaytest.New(t, func(*relaytest.Session, protocol.Command) {})
	ta := newTestApp(t, eventJSON(t, signedNote(t, "anyone there?")))

	err := ta.run(t, "post", "--wait", "50ms", relay.URL)
	if err == nil || !strings.Contains(ta.stdout.String(), "no answer") {
		t.Fatalf("post: err = %v, stdout = %q", err, ta.stdout.String())
	}
}

func TestPostDir(t *testing.T) {
	st := newStore()
	relay := relaytest.New(t, st.handle)
	dir := t.TempDir()
	var want []nostr.Event
	for i, content := range []string{"one", "two", "reject three"} {
		ev := signedNote(t, content)
		want = append(want, ev)
		name := filepath.Join(dir, string(rune('a'+i))+".json")
		if err := os.WriteFile(name, []byte(eventJSON(t, ev)), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "skipped"), 0o700); err != nil {
		t.Fatal(err)
	}
	ta := newTestApp(t, "")

	err := ta.run(t, "post-dir", relay.URL, dir)
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Fatalf("post-dir: err = %v, want 1 of 3 failures", err)
	}

	lines := strings.Split(strings.TrimSpace(ta.stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("stdout = %q", ta.stdout.String())
	}
	for i, ev := range want {
		if !strings.HasPrefix(lines[i], ev.ID+": ") {
			t.Errorf("line %d = %q, want event %s", i, lines[i], ev.ID)
		}
	}

	// EVENT frames go out in directory order.
	var posted []string
	for _, text := range relay.Texts() {
		if cmd, err := protocol.DecodeCommand(text); err == nil {
			if p, ok := cmd.(protocol.PostEvent); ok {
				posted = append(posted, p.Event.ID)
			}
		}
	}
	if len(posted) != 3 || posted[0] != want[0].ID || posted[2] != want[2].ID {
		t.Errorf("posted = %v", posted)
	}
}

func TestPostDirEmpty(t *testing.T) {
	ta := newTestApp(t, "")
	if err := ta.run(t, "post-dir", "ws://127.0.0.1:1", t.TempDir()); err == nil {
		t.Fatal("post-dir accepted an empty directory")
	}
}

func TestTestRelay(t *testing.T) {
	relay := relaytest.New(t, newStore().handle)
	ta := newTestApp(t, "")

	if err := ta.run(t, "test-relay", relay.URL); err != nil {
		t.Fatalf("test-relay: %v", err)
	}
	want := "accepted: true\nserved back: true\n"
	if got := ta.stdout.String(); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestTestRelayRejected(t *testing.T) {
	relay := relaytest.New(t, func(s *relaytest.Session, cmd protocol.Command) {
		switch c := cmd.(type) {
		case protocol.PostEvent:
			_ = s.Send(protocol.OK{EventID: c.Event.ID, Reason: "restricted: members only"})
		case protocol.FetchEvents:
			_ = s.Send(protocol.EOSE{SubscriptionID: c.SubscriptionID})
		}
	})
	ta := newTestApp(t, "")

	if err := ta.run(t, "test-relay", relay.URL); err != nil {
		t.Fatalf("test-relay: %v", err)
	}
	want := "accepted: false (restricted: members only)\nserved back: false\n"
	if got := ta.stdout.String(); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}
