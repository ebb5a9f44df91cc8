package protocol

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Common codec errors.
var (
	ErrInvalidMessage = errors.New("invalid message format")
	ErrUnknownCodec   = errors.New("unknown codec type")
)

// Websocket subprotocols, one per codec.
const (
	SubprotocolJSON    = "questkit.json"
	SubprotocolMsgPack = "questkit.msgpack"
)

// Codec handles message encoding/decoding.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)

	// Name returns the codec name.
	Name() string

	// Subprotocol returns the websocket subprotocol that selects the codec.
	Subprotocol() string

	// Binary reports whether frames are binary.
	Binary() bool
}

// JSONCodec implements Codec using JSON encoding.
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode encodes a message to JSON.
func (c *JSONCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode decodes JSON to a message.
func (c *JSONCodec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Join(ErrInvalidMessage, err)
	}
	return &msg, nil
}

func (c *JSONCodec) Name() string        { return "json" }
func (c *JSONCodec) Subprotocol() string { return SubprotocolJSON }
func (c *JSONCodec) Binary() bool        { return false }

// MsgPackCodec implements Codec using MessagePack encoding. Struct payload
// values are encoded through their msgpack tags.
type MsgPackCodec struct{}

// NewMsgPackCodec creates a new MsgPack codec.
func NewMsgPackCodec() *MsgPackCodec {
	return &MsgPackCodec{}
}

// Encode encodes a message to MsgPack.
func (c *MsgPackCodec) Encode(msg *Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// Decode decodes MsgPack to a message.
func (c *MsgPackCodec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, errors.Join(ErrInvalidMessage, err)
	}
	return &msg, nil
}

func (c *MsgPackCodec) Name() string        { return "msgpack" }
func (c *MsgPackCodec) Subprotocol() string { return SubprotocolMsgPack }
func (c *MsgPackCodec) Binary() bool        { return true }

// CodecRegistry holds the codecs a server accepts. The first registered
// codec is the default.
type CodecRegistry struct {
	mu     sync.RWMutex
	codecs []Codec
}

// NewCodecRegistry creates a registry with the JSON and MsgPack codecs,
// JSON first.
func NewCodecRegistry() *CodecRegistry {
	r := &CodecRegistry{}
	r.Register(NewJSONCodec())
	r.Register(NewMsgPackCodec())
	return r
}

// Register adds a codec, replacing one of the same name.
func (r *CodecRegistry) Register(codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.codecs {
		if c.Name() == codec.Name() {
			r.codecs[i] = codec
			return
		}
	}
	r.codecs = append(r.codecs, codec)
}

// Get retrieves a codec by name.
func (r *CodecRegistry) Get(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Default returns the default codec.
func (r *CodecRegistry) Default() Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.codecs) == 0 {
		return NewJSONCodec()
	}
	return r.codecs[0]
}

// Subprotocols lists the subprotocols of every codec, default first.
func (r *CodecRegistry) Subprotocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.codecs))
	for i, c := range r.codecs {
		out[i] = c.Subprotocol()
	}
	return out
}

// ForSubprotocol returns the codec selected by a negotiated subprotocol.
// An empty subprotocol selects the default.
func (r *CodecRegistry) ForSubprotocol(sub string) (Codec, error) {
	if sub == "" {
		return r.Default(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if c.Subprotocol() == sub {
			return c, nil
		}
	}
	return nil, ErrUnknownCodec
}
