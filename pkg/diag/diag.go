// Package diag mirrors relay traffic to a human readable stream.
//
// The mirror is for people watching a probe run. Nothing in it is part of the
// programmatic contract; callers that need messages read them from the probe.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"

	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

// Mirror writes one line per frame.
type Mirror struct {
	w       io.Writer
	relay   string
	sending string
	good    lipgloss.Style
	bad     lipgloss.Style
	mu      sync.Mutex
	color   bool
}

var defaultMirror atomic.Pointer[Mirror]

// Discard drops everything.
var Discard = New(io.Discard, false)

// New returns a mirror writing to w. With color set, prefixes are styled for
// the terminal w is attached to.
func New(w io.Writer, color bool) *Mirror {
	m := &Mirror{w: w, color: color, relay: "Relay", sending: "Sending"}
	if !color {
		return m
	}
	r := lipgloss.NewRenderer(w)
	m.relay = r.NewStyle().Foreground(lipgloss.Color("12")).Render("Relay")
	m.sending = r.NewStyle().Foreground(lipgloss.Color("141")).Render("Sending")
	m.good = r.NewStyle().Foreground(lipgloss.Color("10"))
	m.bad = r.NewStyle().Foreground(lipgloss.Color("214"))
	return m
}

// Default returns the process-wide mirror, a colored stderr mirror unless
// SetDefault replaced it.
func Default() *Mirror {
	if m := defaultMirror.Load(); m != nil {
		return m
	}
	defaultMirror.CompareAndSwap(nil, New(os.Stderr, true))
	return defaultMirror.Load()
}

// SetDefault replaces the process-wide mirror. Probes pick the default up
// when they are created.
func SetDefault(m *Mirror) {
	defaultMirror.Store(m)
}

// Inbound mirrors a decoded relay message.
func (m *Mirror) Inbound(msg protocol.RelayMessage) {
	switch v := msg.(type) {
	case protocol.AuthChallenge:
		m.linef("%s: AUTH(%s)", m.relay, v.Challenge)
	case protocol.EventMessage:
		raw, err := json.Marshal(&v.Event)
		if err != nil {
			raw = []byte(err.Error())
		}
		m.linef("%s: EVENT(%s, %s)", m.relay, v.SubscriptionID, raw)
	case protocol.Closed:
		m.linef("%s: CLOSED(%s, %s)", m.relay, v.SubscriptionID, v.Reason)
	case protocol.Notice:
		m.linef("%s: NOTICE(%s)", m.relay, v.Text)
	case protocol.EOSE:
		m.linef("%s: EOSE(%s)", m.relay, v.SubscriptionID)
	case protocol.OK:
		m.linef("%s: OK(%s, %t, %s)", m.relay, v.EventID, v.Accepted, v.Reason)
	default:
		m.linef("%s: %T", m.relay, msg)
	}
}

// InboundBinary mirrors a binary frame, which relays should never send.
func (m *Mirror) InboundBinary(n int) {
	m.linef("%s: Binary message received!!! (%d bytes)", m.relay, n)
}

// InboundUndecodable mirrors a text frame that failed to decode.
func (m *Mirror) InboundUndecodable(frame string) {
	m.linef("%s: %s", m.relay, m.paint(m.bad, "Undecodable("+frame+")"))
}

// RemoteClosed mirrors the relay's close frame.
func (m *Mirror) RemoteClosed() {
	m.linef("%s", m.paint(m.good, "Remote closed nicely."))
}

// Terminated mirrors a connection that ended without a close frame.
func (m *Mirror) Terminated(err error) {
	m.linef("%s", m.paint(m.bad, fmt.Sprintf("Connection terminated: %v", err)))
}

// Text mirrors an outbound text frame.
func (m *Mirror) Text(frame string) {
	m.linef("%s: Text(%s)", m.sending, frame)
}

// Ping mirrors an outbound ping.
func (m *Mirror) Ping() {
	m.linef("%s: Ping(_)", m.sending)
}

// Close mirrors an outbound close frame.
func (m *Mirror) Close() {
	m.linef("%s: Close(_)", m.sending)
}

func (m *Mirror) paint(s lipgloss.Style, text string) string {
	if !m.color {
		return text
	}
	return s.Render(text)
}

func (m *Mirror) linef(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.w, format+"\n", args...) //nolint:errcheck // best effort diagnostics
}
