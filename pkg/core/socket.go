package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gabrielmiguelok/questkit/pkg/protocol"
)

// Common socket errors.
var (
	ErrSocketClosed = errors.New("socket is closed")
	ErrSendFailed   = errors.New("failed to send message")
)

// TopicPrefix prefixes every socket topic.
const TopicPrefix = "quest:"

// Transport is the connection a socket writes to.
type Transport interface {
	Send(msg *protocol.Message) error
	Close() error
	IsConnected() bool
}

// Socket is one live connection to a wizard page.
type Socket struct {
	id          string
	connectedAt time.Time

	// Unix nanoseconds.
	lastActivity atomic.Int64

	transport Transport

	mu        sync.RWMutex
	connected bool
}

// NewSocket creates a new socket with the given ID and transport.
func NewSocket(id string, transport Transport) *Socket {
	now := time.Now()
	s := &Socket{
		id:          id,
		connected:   true,
		connectedAt: now,
		transport:   transport,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// ID returns the socket's unique identifier.
func (s *Socket) ID() string {
	return s.id
}

// Topic returns the topic messages for this socket carry.
func (s *Socket) Topic() string {
	return TopicPrefix + s.id
}

// IsConnected returns true if the socket and its transport are connected.
func (s *Socket) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.transport != nil && s.transport.IsConnected()
}

// ConnectedAt returns when the socket connected.
func (s *Socket) ConnectedAt() time.Time {
	return s.connectedAt
}

// LastActivity returns the time of last activity.
func (s *Socket) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// UpdateActivity updates the last activity timestamp.
func (s *Socket) UpdateActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Send writes a message to the client.
func (s *Socket) Send(msg *protocol.Message) error {
	s.mu.RLock()
	connected := s.connected
	transport := s.transport
	s.mu.RUnlock()

	if !connected || transport == nil || !transport.IsConnected() {
		return ErrSocketClosed
	}
	s.UpdateActivity()

	if err := transport.Send(msg); err != nil {
		s.mu.RLock()
		stillConnected := s.connected
		s.mu.RUnlock()
		if !stillConnected {
			return ErrSocketClosed
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Push sends a server event on the socket topic.
func (s *Socket) Push(event string, payload map[string]any) error {
	return s.Send(protocol.EventMessage(s.Topic(), event, payload))
}

// PushRender sends a full HTML render.
func (s *Socket) PushRender(html string) error {
	return s.Send(protocol.RenderMessage(s.Topic(), html))
}

// PushState sends a state snapshot.
func (s *Socket) PushState(state any) error {
	return s.Send(protocol.StateMessage(s.Topic(), state))
}

// Close closes the socket connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		return transport.Close()
	}
	return nil
}

// SocketManager tracks the active sockets.
type SocketManager struct {
	mu         sync.RWMutex
	sockets    map[string]*Socket
	isShutdown bool
}

// NewSocketManager creates a new socket manager.
func NewSocketManager() *SocketManager {
	return &SocketManager{
		sockets: make(map[string]*Socket),
	}
}

// Add registers a socket. It fails once the manager is shut down.
func (sm *SocketManager) Add(socket *Socket) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.isShutdown {
		return ErrSocketClosed
	}
	sm.sockets[socket.ID()] = socket
	return nil
}

// Remove unregisters a socket.
func (sm *SocketManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sockets, id)
}

// Get retrieves a socket by ID.
func (sm *SocketManager) Get(id string) (*Socket, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sockets[id]
	return s, ok
}

// Count returns the number of active sockets.
func (sm *SocketManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sockets)
}

const maxCloseWorkers = 100

// Shutdown closes every socket and refuses new ones.
func (sm *SocketManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	if sm.isShutdown {
		sm.mu.Unlock()
		return nil
	}
	sm.isShutdown = true
	sockets := make([]*Socket, 0, len(sm.sockets))
	for id, s := range sm.sockets {
		sockets = append(sockets, s)
		delete(sm.sockets, id)
	}
	sm.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCloseWorkers)
	for _, s := range sockets {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_ = s.Close()
			return nil
		})
	}
	return g.Wait()
}

// IsShutdown returns true if the manager is shutting down.
func (sm *SocketManager) IsShutdown() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.isShutdown
}

// CleanupInactive closes and removes sockets idle for longer than maxInactive.
func (sm *SocketManager) CleanupInactive(maxInactive time.Duration) int {
	sm.mu.Lock()
	var stale []*Socket
	now := time.Now()
	for id, s := range sm.sockets {
		if now.Sub(s.LastActivity()) > maxInactive {
			stale = append(stale, s)
			delete(sm.sockets, id)
		}
	}
	sm.mu.Unlock()

	for _, s := range stale {
		_ = s.Close()
	}
	return len(stale)
}
