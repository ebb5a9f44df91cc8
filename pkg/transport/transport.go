// Package transport carries protocol messages between the wizard page and
// the live server over a websocket.
package transport

import (
	"errors"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/protocol"
)

// Common transport errors.
var (
	ErrNotConnected     = errors.New("transport not connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send timeout")
	ErrTransportFull    = errors.New("transport buffer full")
)

// Transport is a bidirectional message stream.
type Transport interface {
	// Send queues a message for the peer.
	Send(msg *protocol.Message) error

	// Receive returns a channel for incoming messages. It is never closed;
	// use Done to observe the end of the connection.
	Receive() <-chan *protocol.Message

	// Done is closed once the transport is closed.
	Done() <-chan struct{}

	Close() error
	IsConnected() bool
}

// Config holds transport configuration.
type Config struct {
	// WriteTimeout is the maximum time to wait for a write
	WriteTimeout time.Duration

	// PingInterval is how often to send heartbeats
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong response
	PongTimeout time.Duration

	// MaxMessageSize is the maximum message size in bytes
	MaxMessageSize int64

	SendBufferSize    int
	ReceiveBufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
		MaxMessageSize:    512 * 1024, // 512KB
		SendBufferSize:    256,
		ReceiveBufferSize: 256,
	}
}
