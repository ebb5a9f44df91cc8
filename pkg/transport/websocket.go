package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/protocol"
)

// WebSocket security errors
var (
	ErrOriginNotAllowed = errors.New("origin not allowed")
)

// WebSocketConfig configures WebSocket security settings.
type WebSocketConfig struct {
	// AllowedOrigins is a list of allowed origins for WebSocket connections.
	// If empty and InsecureDevMode is false, only same-origin connections are allowed.
	AllowedOrigins []string

	// InsecureDevMode disables origin validation. Development only.
	InsecureDevMode bool
}

// DefaultWebSocketConfig returns secure default configuration.
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{}
}

// OriginAllowed checks if the origin may open a socket to requestHost.
func (c *WebSocketConfig) OriginAllowed(origin, requestHost string) bool {
	if c != nil && c.InsecureDevMode {
		return true
	}

	// Empty origin = same-origin request (allowed)
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	if originURL.Host == requestHost {
		return true
	}

	if c == nil {
		return false
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if allowedURL, err := url.Parse(allowed); err == nil && allowedURL.Host == originURL.Host {
			return true
		}
	}
	return false
}

// WebSocket implements Transport over a websocket connection, framing
// messages with the codec negotiated through the subprotocol.
type WebSocket struct {
	conn   *websocket.Conn
	codec  protocol.Codec
	config *Config
	logger logging.Logger

	sendCh    chan *protocol.Message
	recvCh    chan *protocol.Message
	closeCh   chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu        sync.RWMutex
	connected bool
}

// Option configures a WebSocket.
type Option func(*WebSocket)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(t *WebSocket) {
		t.logger = l
	}
}

func newWebSocket(conn *websocket.Conn, codec protocol.Codec, config *Config, opts ...Option) *WebSocket {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &WebSocket{
		conn:      conn,
		codec:     codec,
		config:    config,
		logger:    logging.NopLogger{},
		sendCh:    make(chan *protocol.Message, config.SendBufferSize),
		recvCh:    make(chan *protocol.Message, config.ReceiveBufferSize),
		closeCh:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		connected: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	conn.SetReadLimit(config.MaxMessageSize)

	t.wg.Add(3)
	go t.readLoop()
	go t.writeLoop()
	go t.pingLoop()
	return t
}

// Accept upgrades an HTTP request to a websocket (server side). The
// origin is validated against wsConfig and the codec is chosen from the
// subprotocols the client offers.
func Accept(w http.ResponseWriter, r *http.Request, config *Config, wsConfig *WebSocketConfig, codecs *protocol.CodecRegistry, opts ...Option) (*WebSocket, error) {
	if !wsConfig.OriginAllowed(r.Header.Get("Origin"), r.Host) {
		http.Error(w, "Forbidden: Origin not allowed", http.StatusForbidden)
		return nil, ErrOriginNotAllowed
	}
	if codecs == nil {
		codecs = protocol.NewCodecRegistry()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: codecs.Subprotocols(),
		// Origin was checked above.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("accept websocket: %w", err)
	}

	codec, err := codecs.ForSubprotocol(conn.Subprotocol())
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "unknown subprotocol")
		return nil, err
	}
	return newWebSocket(conn, codec, config, opts...), nil
}

// Dial opens a client websocket to rawURL speaking codec.
func Dial(ctx context.Context, rawURL string, codec protocol.Codec, config *Config, opts ...Option) (*WebSocket, error) {
	if codec == nil {
		codec = protocol.NewJSONCodec()
	}
	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		Subprotocols: []string{codec.Subprotocol()},
	})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return newWebSocket(conn, codec, config, opts...), nil
}

// Codec returns the negotiated codec.
func (t *WebSocket) Codec() protocol.Codec { return t.codec }

// IsConnected returns the connection status.
func (t *WebSocket) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Receive returns the receive channel.
func (t *WebSocket) Receive() <-chan *protocol.Message { return t.recvCh }

// Done is closed when the connection ends.
func (t *WebSocket) Done() <-chan struct{} { return t.closeCh }

// Send queues a message, waiting at most WriteTimeout for buffer space.
func (t *WebSocket) Send(msg *protocol.Message) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	timer := time.NewTimer(t.config.WriteTimeout)
	defer timer.Stop()
	select {
	case t.sendCh <- msg:
		return nil
	case <-t.closeCh:
		return ErrConnectionClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close closes the connection and waits for its loops to exit.
func (t *WebSocket) Close() error {
	err := t.shutdown(websocket.StatusNormalClosure, "closing")
	t.wg.Wait()
	return err
}

func (t *WebSocket) shutdown(code websocket.StatusCode, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		close(t.closeCh)
		err = t.conn.Close(code, reason)
		t.cancel()
	})
	return err
}

func (t *WebSocket) readLoop() {
	defer t.wg.Done()
	defer t.shutdown(websocket.StatusNormalClosure, "")

	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && t.ctx.Err() == nil {
				t.logger.Debug("websocket read ended", logging.Err(err))
			}
			return
		}

		msg, err := t.codec.Decode(data)
		if err != nil {
			t.logger.Debug("skipping undecodable frame", logging.Int("bytes", len(data)), logging.Err(err))
			continue
		}
		if msg.Type == protocol.MsgHeartbeat {
			select {
			case t.sendCh <- protocol.OkReply(msg.Ref, msg.Topic, nil):
			default:
			}
			continue
		}

		select {
		case t.recvCh <- msg:
		case <-t.closeCh:
			return
		default:
			t.logger.Warn("receive buffer full, dropping message", logging.String("event", msg.Event))
		}
	}
}

func (t *WebSocket) writeLoop() {
	defer t.wg.Done()

	typ := websocket.MessageText
	if t.codec.Binary() {
		typ = websocket.MessageBinary
	}
	for {
		select {
		case msg := <-t.sendCh:
			data, err := t.codec.Encode(msg)
			if err != nil {
				t.logger.Error("encode message", logging.String("event", msg.Event), logging.Err(err))
				continue
			}

			ctx, cancel := context.WithTimeout(t.ctx, t.config.WriteTimeout)
			err = t.conn.Write(ctx, typ, data)
			cancel()
			if err != nil {
				t.shutdown(websocket.StatusInternalError, "write failed")
				return
			}

		case <-t.closeCh:
			return
		}
	}
}

func (t *WebSocket) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(t.ctx, t.config.PongTimeout)
			err := t.conn.Ping(ctx)
			cancel()
			if err != nil {
				t.logger.Debug("ping failed", logging.Err(err))
				t.shutdown(websocket.StatusGoingAway, "ping timeout")
				return
			}
		case <-t.closeCh:
			return
		}
	}
}
