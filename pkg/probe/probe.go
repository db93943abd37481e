package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codeGROOVE-dev/relayprobe/pkg/diag"
	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

const (
	// DefaultConnectTimeout bounds the TCP connect plus WebSocket upgrade.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultPingInterval is how often a transport ping is sent.
	DefaultPingInterval = 15 * time.Second

	// DefaultCapacity is the size of the command inbox and the result channel.
	DefaultCapacity = 100

	writeTimeout = 10 * time.Second
)

// Config holds the configuration for a probe.
type Config struct {
	Logger *slog.Logger
	// Mirror receives a line per frame. Defaults to diag.Default().
	Mirror *diag.Mirror
	// Exit lists the messages that end the listen loop once delivered.
	Exit           []ExitPattern
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	Capacity       int
}

// Probe is a single relay connection driven by commands.
type Probe struct {
	logger   *slog.Logger
	mirror   *diag.Mirror
	commands chan protocol.Command
	results  chan protocol.RelayMessage
	done     chan struct{}
	quit     chan struct{}
	config   Config
	quitOnce sync.Once
	state    atomic.Int32
	started  atomic.Bool
}

// New creates a probe. The connection is not opened until ConnectAndListen.
func New(config Config) *Probe {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	// The pattern set is fixed for the life of the probe.
	config.Exit = append([]ExitPattern(nil), config.Exit...)

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	mirror := config.Mirror
	if mirror == nil {
		mirror = diag.Default()
	}

	return &Probe{
		config:   config,
		logger:   logger,
		mirror:   mirror,
		commands: make(chan protocol.Command, config.Capacity),
		results:  make(chan protocol.RelayMessage, config.Capacity),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
}

// Send enqueues a command, blocking while the inbox is full. Commands may be
// sent before the connection opens; they are written in order once it does.
// After the connection terminates Send returns ErrClosed, except for
// Disconnect, which is always accepted as a no-op.
func (p *Probe) Send(ctx context.Context, cmd protocol.Command) error {
	if cmd == nil {
		return errors.New("probe: nil command")
	}
	if _, ok := cmd.(protocol.Disconnect); ok {
		p.quitOnce.Do(func() { close(p.quit) })
	}
	select {
	case <-p.done:
		return p.closedErr(cmd)
	default:
	}
	select {
	case p.commands <- cmd:
		return nil
	case <-p.done:
		return p.closedErr(cmd)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues a command without blocking. It returns ErrInboxFull when
// the inbox is at capacity.
func (p *Probe) TrySend(cmd protocol.Command) error {
	if cmd == nil {
		return errors.New("probe: nil command")
	}
	if _, ok := cmd.(protocol.Disconnect); ok {
		p.quitOnce.Do(func() { close(p.quit) })
	}
	select {
	case <-p.done:
		return p.closedErr(cmd)
	default:
	}
	select {
	case p.commands <- cmd:
		return nil
	default:
		return ErrInboxFull
	}
}

func (p *Probe) closedErr(cmd protocol.Command) error {
	if _, ok := cmd.(protocol.Disconnect); ok {
		return nil
	}
	return ErrClosed
}

// Results returns the channel of relay messages in arrival order. It is
// closed when the connection terminates.
func (p *Probe) Results() <-chan protocol.RelayMessage {
	return p.results
}

// Done is closed when the connection has terminated.
func (p *Probe) Done() <-chan struct{} {
	return p.done
}

// State returns the current connection state.
func (p *Probe) State() State {
	return State(p.state.Load())
}

func (p *Probe) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.logger.Debug("probe state change", "from", old.String(), "to", s.String())
	}
}

// ConnectAndListen dials the relay and services the connection until a
// Disconnect command, an exit pattern match, a close frame, a transport or
// decode error, or ctx cancellation. It may be called once per probe.
//
// A nil return means the loop ended normally (Disconnect, exit match, or the
// relay closing). Whatever the reason, a close frame is sent before returning.
func (p *Probe) ConnectAndListen(ctx context.Context, relayURL string) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer p.finish()

	loc, err := ParseRelayURL(relayURL)
	if err != nil {
		return err
	}

	ws, err := p.dial(ctx, loc.String())
	if err != nil {
		p.logger.Error("failed to connect to relay", "relay", loc.String(), "error", err)
		return err
	}
	p.setState(StateOpen)
	p.logger.Info("connected to relay", "relay", loc.String())

	err = p.listen(ctx, ws)

	p.setState(StateClosing)
	p.mirror.Close()
	if closeErr := writeClose(ws); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		// The original exit reason wins.
		p.logger.Warn("failed to send close frame", "relay", loc.String(), "error", closeErr)
	}
	ws.Close() //nolint:errcheck // the close frame is already out
	if err != nil {
		p.logger.Warn("connection ended with error", "relay", loc.String(), "error", err)
	} else {
		p.logger.Info("connection closed", "relay", loc.String())
	}
	return err
}

// dial performs the HTTP upgrade, bounded by the connect timeout. No Origin
// header is sent; relays that check it only reject foreign browser pages.
func (p *Probe) dial(ctx context.Context, location string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: p.config.ConnectTimeout,
	}

	start := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	// The socket deadline can fire a moment before dialCtx reports it.
	ws, resp, err := dialer.DialContext(dialCtx, location, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // already buffered by the dialer
	}
	if err != nil {
		if ctx.Err() == nil && (dialCtx.Err() != nil || time.Since(start) >= p.config.ConnectTimeout) {
			return nil, &HandshakeError{URL: location, Err: fmt.Errorf("%w after %s: %v", ErrHandshakeTimeout, p.config.ConnectTimeout, err)}
		}
		he := &HandshakeError{URL: location, Err: err}
		if resp != nil {
			he.Status = resp.StatusCode
		}
		return nil, he
	}
	return ws, nil
}

// listen is the event loop. It returns nil for a normal end.
func (p *Probe) listen(ctx context.Context, ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)

	// The reader reads one message per grant, so a message is never read
	// before the previous one has been handled.
	grant := make(chan struct{}, 1)
	frames := make(chan inboundFrame)
	go readFrames(ws, grant, frames, stop)
	grant <- struct{}{}

	ticker := time.NewTicker(p.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("probe context cancelled", "error", ctx.Err())
			return ctx.Err()

		case <-ticker.C:
			p.mirror.Ping()
			if err := writePing(ws); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case cmd := <-p.commands:
			if _, ok := cmd.(protocol.Disconnect); ok {
				p.logger.Debug("disconnect requested")
				return nil
			}
			if err := p.transmit(ws, cmd); err != nil {
				return err
			}

		case f := <-frames:
			stopLoop, err := p.handleFrame(ctx, ws, f)
			if err != nil || stopLoop {
				return err
			}
			grant <- struct{}{}
		}
	}
}

func (p *Probe) transmit(ws *websocket.Conn, cmd protocol.Command) error {
	text, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	p.mirror.Text(text)
	if err := writeText(ws, []byte(text)); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Type(), err)
	}
	return nil
}

// handleFrame processes one inbound frame. stop reports that the loop should
// end without error.
func (p *Probe) handleFrame(ctx context.Context, ws *websocket.Conn, f inboundFrame) (stop bool, err error) {
	if f.err != nil {
		var ce *websocket.CloseError
		if errors.As(f.err, &ce) {
			p.logger.Debug("relay sent close frame", "code", ce.Code, "text", ce.Text)
			p.mirror.RemoteClosed()
			return true, nil
		}
		p.mirror.Terminated(f.err)
		return true, fmt.Errorf("read: %w", f.err)
	}

	switch f.kind {
	case websocket.TextMessage:
		msg, err := protocol.Decode(string(f.data))
		if err != nil {
			p.mirror.InboundUndecodable(string(f.data))
			return true, err
		}
		p.mirror.Inbound(msg)
		if halt, err := p.deliver(ctx, ws, msg); halt || err != nil {
			return true, err
		}
		if pattern, ok := matchAny(p.config.Exit, msg); ok {
			p.logger.Debug("exit pattern matched", "pattern", pattern.String())
			return true, nil
		}
	case websocket.BinaryMessage:
		p.mirror.InboundBinary(len(f.data))
	}
	return false, nil
}

// deliver forwards msg to the result channel. If the caller has asked to
// disconnect and is no longer reading, commands already queued are still
// written and the loop ends.
func (p *Probe) deliver(ctx context.Context, ws *websocket.Conn, msg protocol.RelayMessage) (stop bool, err error) {
	select {
	case p.results <- msg:
		return false, nil
	default:
	}
	select {
	case p.results <- msg:
		return false, nil
	case <-ctx.Done():
		return true, ctx.Err()
	case <-p.quit:
		p.logger.Debug("disconnect requested while result channel was full", "type", msg.Type())
		return true, p.flushCommands(ws)
	}
}

// flushCommands writes queued commands up to the first Disconnect.
func (p *Probe) flushCommands(ws *websocket.Conn) error {
	for {
		select {
		case cmd := <-p.commands:
			if _, ok := cmd.(protocol.Disconnect); ok {
				return nil
			}
			if err := p.transmit(ws, cmd); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// finish publishes the terminal state. Commands still queued are dropped.
func (p *Probe) finish() {
	p.setState(StateClosed)
	close(p.done)
	close(p.results)

	dropped := 0
	for drained := false; !drained; {
		select {
		case cmd := <-p.commands:
			if _, ok := cmd.(protocol.Disconnect); !ok {
				dropped++
			}
		default:
			drained = true
		}
	}
	if dropped > 0 {
		p.logger.Warn("dropped commands queued after connection ended", "count", dropped)
	}
}
