package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

// EventName tags every frame on the signaling channel.
type EventName string

const (
	EventSession         EventName = "session"
	EventJoin            EventName = "join"
	EventExistingMembers EventName = "existing-members"
	EventPeerJoined      EventName = "peer-joined"
	EventPeerLeft        EventName = "peer-left"
	EventNegotiation     EventName = "negotiation"
	EventChat            EventName = "chat"
	EventPing            EventName = "ping"
	EventPong            EventName = "pong"
	EventWhoAmI          EventName = "whoami"
)

var (
	ErrUnknownKind = errors.New("unknown negotiation kind")
	ErrNoEvent     = errors.New("frame has no event")
)

// Envelope is the outer frame: {"event": ..., "data": ...}.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionInfo is sent to a client right after connect and on whoami.
type SessionInfo struct {
	SessionID SessionID     `json:"sessionId"`
	Name      string        `json:"name"`
	Room      domain.RoomID `json:"room,omitempty"`
}

type JoinRequest struct {
	Room domain.RoomID `json:"room"`
	Name string        `json:"name,omitempty"`
}

// Presence is the payload of peer-joined and peer-left.
type Presence struct {
	SessionID SessionID `json:"sessionId"`
	Name      string    `json:"name"`
}

type Chat struct {
	Room domain.RoomID `json:"room"`
	From SessionID     `json:"from,omitempty"`
	Name string        `json:"name,omitempty"`
	Text string        `json:"text"`
}

// NegotiationKind is the closed set of negotiation payload kinds.
type NegotiationKind uint8

const (
	KindOffer NegotiationKind = iota + 1
	KindAnswer
	KindICECandidate
)

func (k NegotiationKind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindICECandidate:
		return "ice-candidate"
	}
	return fmt.Sprintf("NegotiationKind(%d)", uint8(k))
}

func ParseNegotiationKind(s string) (NegotiationKind, error) {
	switch s {
	case "offer":
		return KindOffer, nil
	case "answer":
		return KindAnswer, nil
	case "ice-candidate":
		return KindICECandidate, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k NegotiationKind) MarshalText() ([]byte, error) {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
}

func (k *NegotiationKind) UnmarshalText(b []byte) error {
	v, err := ParseNegotiationKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Negotiation is relayed between exactly two sessions. Data stays opaque to
// the relay.
type Negotiation struct {
	To   SessionID       `json:"to"`
	From SessionID       `json:"from"`
	Kind NegotiationKind `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps v into an Envelope frame.
func Encode(event EventName, v any) (Frame, error) {
	env := Envelope{Event: event}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return b, nil
}

func Decode(f Frame) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrNoEvent
	}
	return env, nil
}

// DecodeData unmarshals the payload of env into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decode %s: empty data", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}
