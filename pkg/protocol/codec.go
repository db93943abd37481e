package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// ErrNoFrame is returned by Encode for commands that are never written to the wire.
var ErrNoFrame = errors.New("command has no wire frame")

const (
	// maxQuotedFrame bounds how much of an offending frame is kept in a DecodeError.
	maxQuotedFrame = 256
	maxQuotedText  = 128
)

var parser = nostr.NewMessageParser()

// DecodeError reports a frame that could not be turned into a typed message.
type DecodeError struct {
	Err    error
	Frame  string
	Reason string
}

func (e *DecodeError) Error() string {
	frame := clip(e.Frame, maxQuotedFrame)
	reason := clip(e.Reason, maxQuotedText)
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %s", frame, reason, clip(e.Err.Error(), maxQuotedText))
	}
	return fmt.Sprintf("decode %q: %s", frame, reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode renders a client command as a text frame.
func Encode(cmd Command) (string, error) {
	var env nostr.Envelope
	switch c := cmd.(type) {
	case PostEvent:
		env = &nostr.EventEnvelope{Event: c.Event}
	case Auth:
		env = &nostr.AuthEnvelope{Event: c.Event}
	case FetchEvents:
		if err := bare("subscription id", c.SubscriptionID); err != nil {
			return "", err
		}
		env = &nostr.ReqEnvelope{SubscriptionID: c.SubscriptionID, Filters: c.Filters}
	case CloseSubscription:
		e := nostr.CloseEnvelope(c.SubscriptionID)
		env = &e
	case Disconnect:
		return "", ErrNoFrame
	default:
		return "", fmt.Errorf("encode: unknown command %T", cmd)
	}
	return marshal(env)
}

// EncodeMessage renders a relay message as a text frame. Clients never send
// these; relays (and test relays) do.
func EncodeMessage(msg RelayMessage) (string, error) {
	var env nostr.Envelope
	switch m := msg.(type) {
	case AuthChallenge:
		env = &nostr.AuthEnvelope{Challenge: &m.Challenge}
	case EventMessage:
		if err := bare("subscription id", m.SubscriptionID); err != nil {
			return "", err
		}
		env = &nostr.EventEnvelope{SubscriptionID: &m.SubscriptionID, Event: m.Event}
	case Closed:
		env = &nostr.ClosedEnvelope{SubscriptionID: m.SubscriptionID, Reason: m.Reason}
	case Notice:
		e := nostr.NoticeEnvelope(m.Text)
		env = &e
	case EOSE:
		e := nostr.EOSEEnvelope(m.SubscriptionID)
		env = &e
	case OK:
		if err := bare("event id", m.EventID); err != nil {
			return "", err
		}
		env = &nostr.OKEnvelope{EventID: m.EventID, OK: m.Accepted, Reason: m.Reason}
	default:
		return "", fmt.Errorf("encode: unknown relay message %T", msg)
	}
	return marshal(env)
}

// Decode parses a text frame received from a relay.
func Decode(frame string) (RelayMessage, error) {
	env, err := parse(frame, relayShapes, "relay message")
	if err != nil {
		return nil, err
	}

	switch env := env.(type) {
	case *nostr.AuthEnvelope:
		if env.Challenge != nil {
			return AuthChallenge{Challenge: *env.Challenge}, nil
		}
	case *nostr.EventEnvelope:
		if env.SubscriptionID != nil {
			if err := checkEvent(frame, &env.Event); err != nil {
				return nil, err
			}
			return EventMessage{SubscriptionID: *env.SubscriptionID, Event: env.Event}, nil
		}
	case *nostr.OKEnvelope:
		if !isHex(env.EventID, 64) {
			return nil, &DecodeError{Frame: frame, Reason: "event id is not 32 bytes of hex"}
		}
		return OK{EventID: env.EventID, Accepted: env.OK, Reason: env.Reason}, nil
	case *nostr.EOSEEnvelope:
		return EOSE{SubscriptionID: string(*env)}, nil
	case *nostr.ClosedEnvelope:
		return Closed{SubscriptionID: env.SubscriptionID, Reason: env.Reason}, nil
	case *nostr.NoticeEnvelope:
		return Notice{Text: string(*env)}, nil
	}
	return nil, &DecodeError{Frame: frame, Reason: "unexpected " + env.Label() + " envelope"}
}

// DecodeCommand parses a text frame sent by a client.
func DecodeCommand(frame string) (Command, error) {
	env, err := parse(frame, commandShapes, "client command")
	if err != nil {
		return nil, err
	}

	switch env := env.(type) {
	case *nostr.EventEnvelope:
		if env.SubscriptionID == nil {
			if err := checkEvent(frame, &env.Event); err != nil {
				return nil, err
			}
			return PostEvent{Event: env.Event}, nil
		}
	case *nostr.AuthEnvelope:
		if env.Challenge == nil {
			if err := checkEvent(frame, &env.Event); err != nil {
				return nil, err
			}
			return Auth{Event: env.Event}, nil
		}
	case *nostr.ReqEnvelope:
		return FetchEvents{SubscriptionID: env.SubscriptionID, Filters: env.Filters}, nil
	case *nostr.CloseEnvelope:
		return CloseSubscription{SubscriptionID: string(*env)}, nil
	}
	return nil, &DecodeError{Frame: frame, Reason: "unexpected " + env.Label() + " envelope"}
}

// jsonKind is the type of a JSON value, named by its first byte.
type jsonKind byte

const (
	jsonString jsonKind = '"'
	jsonObject jsonKind = '{'
	jsonArray  jsonKind = '['
	jsonBool   jsonKind = 'b'
	jsonNull   jsonKind = 'n'
	jsonNumber jsonKind = '0'
)

func (k jsonKind) String() string {
	switch k {
	case jsonString:
		return "a string"
	case jsonObject:
		return "an object"
	case jsonArray:
		return "an array"
	case jsonBool:
		return "a boolean"
	case jsonNull:
		return "null"
	default:
		return "a number"
	}
}

func kindOf(raw json.RawMessage) jsonKind {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return jsonNull
	}
	switch raw[0] {
	case '"', '{', '[', 'n':
		return jsonKind(raw[0])
	case 't', 'f':
		return jsonBool
	default:
		return jsonNumber
	}
}

// shape lists the kinds of the elements after the tag. The last optional
// elements may be omitted; with variadic set the last kind repeats.
type shape struct {
	kinds    []jsonKind
	optional int
	variadic bool
}

var relayShapes = map[string]shape{
	TagAuth:  {kinds: []jsonKind{jsonString}},
	TagEvent: {kinds: []jsonKind{jsonString, jsonObject}},
	// Some relays still omit the reason.
	TagOK:     {kinds: []jsonKind{jsonString, jsonBool, jsonString}, optional: 1},
	TagEOSE:   {kinds: []jsonKind{jsonString}},
	TagClosed: {kinds: []jsonKind{jsonString, jsonString}, optional: 1},
	TagNotice: {kinds: []jsonKind{jsonString}},
}

var commandShapes = map[string]shape{
	TagEvent: {kinds: []jsonKind{jsonObject}},
	TagAuth:  {kinds: []jsonKind{jsonObject}},
	TagReq:   {kinds: []jsonKind{jsonString, jsonObject}, variadic: true},
	TagClose: {kinds: []jsonKind{jsonString}},
}

// parse checks frame against the shape registered for its tag and hands it
// to the envelope parser. The envelopes themselves accept nearly anything,
// so every structural rule is enforced here first.
func parse(frame string, shapes map[string]shape, what string) (nostr.Envelope, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(frame), &elems); err != nil {
		return nil, &DecodeError{Frame: frame, Reason: "not a JSON array", Err: err}
	}
	if len(elems) == 0 {
		return nil, &DecodeError{Frame: frame, Reason: "empty array"}
	}
	var tag string
	if err := json.Unmarshal(elems[0], &tag); err != nil {
		return nil, &DecodeError{Frame: frame, Reason: "tag is not a string", Err: err}
	}
	s, ok := shapes[tag]
	if !ok {
		return nil, &DecodeError{Frame: frame, Reason: fmt.Sprintf("unknown %s tag %q", what, clip(tag, 32))}
	}

	n := len(elems) - 1
	lo, hi := len(s.kinds)-s.optional, len(s.kinds)
	if s.variadic {
		hi = math.MaxInt
	}
	if n < lo || n > hi {
		if s.variadic {
			return nil, &DecodeError{Frame: frame, Reason: fmt.Sprintf("%d elements, want at least %d", len(elems), lo+1)}
		}
		return nil, &DecodeError{Frame: frame, Reason: fmt.Sprintf("%d elements, want %d..%d", len(elems), lo+1, hi+1)}
	}
	for i, raw := range elems[1:] {
		want := s.kinds[min(i, len(s.kinds)-1)]
		if got := kindOf(raw); got != want {
			return nil, &DecodeError{Frame: frame, Reason: fmt.Sprintf("element %d is %s, want %s", i+1, got, want)}
		}
	}

	// The envelopes want every element present; omitted ones are strings.
	if missing := len(s.kinds) - n; missing > 0 && !s.variadic {
		end := strings.LastIndexByte(frame, ']')
		frame = frame[:end] + strings.Repeat(`,""`, missing) + frame[end:]
	}
	env, err := parser.ParseMessage(frame)
	if err != nil {
		return nil, &DecodeError{Frame: frame, Reason: tag, Err: err}
	}
	return env, nil
}

func marshal(env nostr.Envelope) (string, error) {
	b, err := env.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", env.Label(), err)
	}
	return string(b), nil
}

// bare rejects ids the envelopes would write unquoted into broken JSON.
func bare(name, s string) error {
	for i := range len(s) {
		if c := s[i]; c < 0x20 || c == '"' || c == '\\' {
			return fmt.Errorf("encode: %s %q needs escaping", name, s)
		}
	}
	return nil
}

// checkEvent checks an event's shape. Signatures are not verified here.
func checkEvent(frame string, ev *nostr.Event) error {
	switch {
	case !isHex(ev.ID, 64):
		return &DecodeError{Frame: frame, Reason: "event id is not 32 bytes of hex"}
	case !isHex(ev.PubKey, 64):
		return &DecodeError{Frame: frame, Reason: "event pubkey is not 32 bytes of hex"}
	case !isHex(ev.Sig, 128):
		return &DecodeError{Frame: frame, Reason: "event sig is not 64 bytes of hex"}
	case ev.Kind < 0 || ev.Kind > 65535:
		return &DecodeError{Frame: frame, Reason: fmt.Sprintf("event kind %d out of range", ev.Kind)}
	}
	return nil
}

// isHex reports whether s is exactly n lowercase hex digits.
func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
