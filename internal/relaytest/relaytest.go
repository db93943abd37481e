// Package relaytest provides an in-process, scripted Nostr relay for tests.
//
// It records every frame a client sends, including ping and close control
// frames, and hands decoded client commands to a Handler that decides what
// the relay answers.
package relaytest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

const writeTimeout = 5 * time.Second

// Observation kinds.
const (
	Text  = "text"
	Ping  = "ping"
	Close = "close"
)

// Observation is one thing the relay saw from a client.
type Observation struct {
	Command protocol.Command // set for decodable text frames
	Kind    string
	Data    string
	Code    int // close code
}

// Handler reacts to a decoded client command. It runs on the connection's
// read goroutine; frames it sends go out before the next command is read.
type Handler func(s *Session, cmd protocol.Command)

// Relay is a test relay bound to a local port.
type Relay struct {
	server       *httptest.Server
	observations chan Observation
	handler      Handler
	onConnect    func(s *Session)
	upgrader     websocket.Upgrader
	URL          string
	mu           sync.Mutex
	sessions     []*Session
}

// Option configures a Relay.
type Option func(*Relay)

// OnConnect runs f right after the upgrade, before any command is read.
func OnConnect(f func(s *Session)) Option {
	return func(r *Relay) { r.onConnect = f }
}

// New starts a relay and registers its shutdown with t.Cleanup.
func New(t testing.TB, handler Handler, opts ...Option) *Relay {
	t.Helper()
	r := &Relay{
		handler:      handler,
		observations: make(chan Observation, 1024),
		// Small enough that SendStreamed fragments a sizeable event.
		upgrader: websocket.Upgrader{WriteBufferSize: 1024},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	r.URL = "ws" + strings.TrimPrefix(r.server.URL, "http")
	t.Cleanup(r.Close)
	return r
}

// Close shuts the relay down and drops open connections.
func (r *Relay) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()
	for _, s := range sessions {
		s.conn.Close() //nolint:errcheck // test teardown
	}
	r.server.Close()
}

// Next returns the next observation, failing the test after timeout.
func (r *Relay) Next(t testing.TB, timeout time.Duration) Observation {
	t.Helper()
	select {
	case o := <-r.observations:
		return o
	case <-time.After(timeout):
		t.Fatalf("relay observed nothing within %s", timeout)
		return Observation{}
	}
}

// WaitFor skips observations until one of the given kind arrives.
func (r *Relay) WaitFor(t testing.TB, kind string, timeout time.Duration) Observation {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case o := <-r.observations:
			if o.Kind == kind {
				return o
			}
		case <-deadline:
			t.Fatalf("relay did not observe %s within %s", kind, timeout)
			return Observation{}
		}
	}
}

// Texts drains pending observations and returns the text frames among them.
func (r *Relay) Texts() []string {
	var out []string
	for {
		select {
		case o := <-r.observations:
			if o.Kind == Text {
				out = append(out, o.Data)
			}
		default:
			return out
		}
	}
}

func (r *Relay) observe(o Observation) {
	select {
	case r.observations <- o:
	default:
		// Tests that do not read observations must not block the relay.
	}
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	s := &Session{conn: conn}

	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		r.observe(Observation{Kind: Ping, Data: data})
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	if r.onConnect != nil {
		r.onConnect(s)
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok { //nolint:errorlint // ReadMessage returns it unwrapped
				r.observe(Observation{Kind: Close, Code: ce.Code, Data: ce.Text})
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		o := Observation{Kind: Text, Data: string(data)}
		cmd, err := protocol.DecodeCommand(string(data))
		if err == nil {
			o.Command = cmd
		}
		r.observe(o)
		if err != nil {
			_ = s.Send(protocol.Notice{Text: "error: " + err.Error()})
			continue
		}
		if r.handler != nil {
			r.handler(s, cmd)
		}
	}
}

// Session is one client connection as seen by the relay.
type Session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Send writes a relay message.
func (s *Session) Send(msg protocol.RelayMessage) error {
	frame, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.SendRaw(websocket.TextMessage, []byte(frame))
}

// SendStreamed writes a relay message through a streaming writer, so a
// message larger than the write buffer goes out as continuation frames.
func (s *Session) SendStreamed(msg protocol.RelayMessage) error {
	frame, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	w, err := s.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, frame); err != nil {
		w.Close() //nolint:errcheck // the write error wins
		return err
	}
	return w.Close()
}

// SendRaw writes an arbitrary data frame.
func (s *Session) SendRaw(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// SendClose writes a normal close frame.
func (s *Session) SendClose() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

// Hangup drops the connection without a close frame.
func (s *Session) Hangup() error {
	return s.conn.Close()
}

// Event returns an event whose id, pubkey and sig are well-formed hex. The
// signature is not valid; the codec only checks shape.
func Event(n int, content string) nostr.Event {
	return nostr.Event{
		ID:        fmt.Sprintf("%064x", n),
		PubKey:    strings.Repeat("cd", 32),
		CreatedAt: nostr.Timestamp(1700000000 + int64(n)),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   content,
		Sig:       strings.Repeat("ef", 64),
	}
}

// Serve answers every REQ with the given events followed by EOSE.
func Serve(events ...nostr.Event) Handler {
	return func(s *Session, cmd protocol.Command) {
		req, ok := cmd.(protocol.FetchEvents)
		if !ok {
			return
		}
		for _, ev := range events {
			_ = s.Send(protocol.EventMessage{SubscriptionID: req.SubscriptionID, Event: ev})
		}
		_ = s.Send(protocol.EOSE{SubscriptionID: req.SubscriptionID})
	}
}
