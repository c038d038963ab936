package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/DoyleJ11/coop-session-server/internal/relay"
)

var ErrBadFrame = errors.New("malformed frame")
var ErrUnknownType = errors.New("unknown frame type")

// Websocket subprotocols. A connection without one speaks JSON.
const (
	SubprotocolJSON    = "coop.json"
	SubprotocolMsgpack = "coop.msgpack"
)

// Envelope is a decoded frame whose payload is still encoded.
type Envelope struct {
	Type    string
	Payload []byte
}

// Codec turns frames into bytes and back.
type Codec interface {
	Name() string
	Binary() bool
	Encode(f Frame) ([]byte, error)
	Decode(b []byte) (Envelope, error)
	Unmarshal(payload []byte, out any) error
}

// ForSubprotocol picks the codec negotiated for a connection.
func ForSubprotocol(name string) Codec {
	if name == SubprotocolMsgpack {
		return Msgpack{}
	}
	return JSON{}
}

type jsonEnvelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"`
}

type JSON struct{}

func (JSON) Name() string { return SubprotocolJSON }
func (JSON) Binary() bool { return false }

func (JSON) Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrBadFrame)
	}
	var pb []byte
	if f.Payload != nil {
		var err error
		if pb, err = json.Marshal(f.Payload); err != nil {
			return nil, err
		}
	}
	return json.Marshal(jsonEnvelope{T: f.Type, P: pb})
}

func (JSON) Decode(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty message", ErrBadFrame)
	}
	var e jsonEnvelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if e.T == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrBadFrame)
	}
	return Envelope{Type: e.T, Payload: e.P}, nil
}

func (JSON) Unmarshal(payload []byte, out any) error {
	return json.Unmarshal(payload, out)
}

type msgpackEnvelope struct {
	T string             `msgpack:"t"`
	P msgpack.RawMessage `msgpack:"p"`
}

type Msgpack struct{}

func (Msgpack) Name() string { return SubprotocolMsgpack }
func (Msgpack) Binary() bool { return true }

func (Msgpack) Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrBadFrame)
	}
	pb, err := msgpack.Marshal(f.Payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&msgpackEnvelope{T: f.Type, P: pb})
}

func (Msgpack) Decode(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty message", ErrBadFrame)
	}
	var e msgpackEnvelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if e.T == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrBadFrame)
	}
	return Envelope{Type: e.T, Payload: e.P}, nil
}

func (Msgpack) Unmarshal(payload []byte, out any) error {
	return msgpack.Unmarshal(payload, out)
}

// DecodePayload decodes env's payload as T. Payload-less types decode to the
// zero value.
func DecodePayload[T any](c Codec, env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, nil
	}
	if err := c.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s payload: %v", ErrBadFrame, env.Type, err)
	}
	return out, nil
}

type decoder func(Codec, Envelope) (any, error)

func as[T any](c Codec, env Envelope) (any, error) {
	return DecodePayload[T](c, env)
}

var clientPayloads = map[string]decoder{
	MsgSubmit:       as[Submit],
	MsgSetReady:     as[SetReady],
	MsgStart:        as[Start],
	MsgLoadComplete: as[LoadComplete],
	MsgRelay:        as[relay.Message],
	MsgUpdate:       as[Updates],
}

var serverPayloads = map[string]decoder{
	MsgWelcome:   as[Welcome],
	MsgRoster:    as[RosterView],
	MsgPhase:     as[Phase],
	MsgHideLobby: as[HideLobby],
	MsgLoadWorld: as[LoadWorld],
	MsgSpawn:     as[Spawn],
	MsgDespawn:   as[Despawn],
	MsgError:     as[Error],
	MsgRelay:     as[relay.Message],
	MsgUpdate:    as[Updates],
}

// DecodeClient decodes a message sent by a client.
func DecodeClient(c Codec, b []byte) (Frame, error) {
	return decode(c, b, clientPayloads)
}

// DecodeServer decodes a message sent by the server.
func DecodeServer(c Codec, b []byte) (Frame, error) {
	return decode(c, b, serverPayloads)
}

func decode(c Codec, b []byte, table map[string]decoder) (Frame, error) {
	env, err := c.Decode(b)
	if err != nil {
		return Frame{}, err
	}
	dec, ok := table[env.Type]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	p, err := dec(c, env)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: env.Type, Payload: p}, nil
}
