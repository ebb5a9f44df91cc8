// Package shutdown runs ordered cleanup hooks when the server stops.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/logging"
)

// Common shutdown errors.
var (
	ErrShutdownTimeout = errors.New("shutdown timed out")
	ErrAlreadyClosed   = errors.New("shutdown handler already closed")
)

// Hook priorities. Lower runs earlier.
const (
	// PriorityHTTP stops accepting requests.
	PriorityHTTP = 100
	// PriorityLive closes websocket connections and their wizard sessions.
	PriorityLive = 200
	// PriorityDrafts waits for in-flight autosaves.
	PriorityDrafts = 300
	// PriorityStore closes the draft store.
	PriorityStore = 400
	// PriorityLast runs latest.
	PriorityLast = 1000
)

// Hook is one cleanup step.
type Hook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// Handler collects hooks and runs them once.
type Handler struct {
	timeout time.Duration
	logger  logging.Logger

	mu     sync.Mutex
	hooks  []Hook
	done   chan struct{}
	closed bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds the whole shutdown.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a handler with a 30s default timeout.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		timeout: 30 * time.Second,
		logger:  logging.NopLogger{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a shutdown hook.
func (h *Handler) Register(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// RegisterFunc registers fn as a hook.
func (h *Handler) RegisterFunc(name string, priority int, fn func(ctx context.Context) error) {
	h.Register(Hook{Name: name, Priority: priority, Fn: fn})
}

// RegisterCloser registers c.Close as a hook.
func (h *Handler) RegisterCloser(name string, priority int, c io.Closer) {
	h.RegisterFunc(name, priority, func(context.Context) error { return c.Close() })
}

// Shutdown runs the hooks in priority order. Hooks with equal priority run
// in registration order. Every hook runs even if an earlier one failed; a
// timeout stops the remaining hooks.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrAlreadyClosed
	}
	h.closed = true
	hooks := slices.Clone(h.hooks)
	h.mu.Unlock()
	defer close(h.done)

	slices.SortStableFunc(hooks, func(a, b Hook) int {
		return a.Priority - b.Priority
	})

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errs []error
	for _, hook := range hooks {
		if ctx.Err() != nil {
			h.logger.Warn("shutdown hook skipped", logging.String("hook", hook.Name))
			errs = append(errs, ErrShutdownTimeout)
			break
		}
		start := time.Now()
		err := hook.Fn(ctx)
		fields := []logging.Field{
			logging.String("hook", hook.Name),
			logging.Duration("duration", time.Since(start)),
		}
		if err != nil {
			h.logger.Error("shutdown hook failed", append(fields, logging.Err(err))...)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		h.logger.Debug("shutdown hook done", fields...)
	}
	return errors.Join(errs...)
}

// Done is closed once Shutdown has finished.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// IsClosed reports whether Shutdown was called.
func (h *Handler) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
