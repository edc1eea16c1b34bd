package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols used to pick a codec during the upgrade.
const (
	SubprotocolJSON    = "shuffle.json"
	SubprotocolMsgpack = "shuffle.msgpack"
)

// Codec turns a Message into a websocket frame and back.
type Codec interface {
	Name() string
	FrameType() int
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte, msg *Message) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Decode(data []byte, msg *Message) error {
	return json.Unmarshal(data, msg)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(msg *Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func (msgpackCodec) Decode(data []byte, msg *Message) error {
	return msgpack.Unmarshal(data, msg)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// Subprotocols lists the subprotocols the server accepts, preferred first.
func Subprotocols() []string {
	return []string{SubprotocolMsgpack, SubprotocolJSON}
}

// ForSubprotocol returns the codec negotiated for a connection. Clients that
// did not ask for a subprotocol speak JSON.
func ForSubprotocol(name string) Codec {
	if name == SubprotocolMsgpack {
		return Msgpack
	}
	return JSON
}

// ByName resolves a codec from configuration ("json" or "msgpack").
func ByName(name string) (Codec, string, error) {
	switch name {
	case "", "json":
		return JSON, SubprotocolJSON, nil
	case "msgpack":
		return Msgpack, SubprotocolMsgpack, nil
	default:
		return nil, "", fmt.Errorf("unknown codec %q", name)
	}
}
