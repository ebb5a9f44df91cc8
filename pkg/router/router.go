// Package router serves live components over HTTP and websockets.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabrielmiguelok/questkit/pkg/core"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/protocol"
	"github.com/gabrielmiguelok/questkit/pkg/transport"
)

// Common router errors.
var (
	ErrNilRenderer = errors.New("component returned nil renderer")
	ErrNotJoined   = errors.New("join the topic before sending events")
	ErrUnsupported = errors.New("unsupported message type")
)

// Layout wraps a rendered component body into a full page.
type Layout func(ctx context.Context, w io.Writer, route *LiveRoute, body []byte) error

// LiveRoute defines a route that renders a live component.
type LiveRoute struct {
	// Path is the URL path pattern.
	Path string

	// Component is the factory function for creating the component.
	Component func() core.Component

	// Layout wraps the initial HTTP render. Nil writes the body as is.
	Layout Layout

	// Middleware are route-specific middleware.
	Middleware []Middleware

	// Meta contains route metadata.
	Meta map[string]any
}

// Middleware is a function that wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

// ErrorHandler handles errors during request processing.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Router handles HTTP routing for live pages.
type Router struct {
	mux          *http.ServeMux
	liveRoutes   map[string]*LiveRoute
	middleware   []Middleware
	errorHandler ErrorHandler
	logger       logging.Logger

	sessions *SessionManager
	sockets  *core.SocketManager

	codecs          *protocol.CodecRegistry
	transportConfig *transport.Config
	wsConfig        *transport.WebSocketConfig

	wg sync.WaitGroup
	mu sync.RWMutex
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithCodecs sets the codecs offered to websocket clients.
func WithCodecs(c *protocol.CodecRegistry) Option {
	return func(r *Router) {
		r.codecs = c
	}
}

// WithTransportConfig sets websocket timeouts and buffers.
func WithTransportConfig(c *transport.Config) Option {
	return func(r *Router) {
		r.transportConfig = c
	}
}

// WithWebSocketConfig sets origin checking.
func WithWebSocketConfig(c *transport.WebSocketConfig) Option {
	return func(r *Router) {
		r.wsConfig = c
	}
}

// WithSessionConfig sets session limits.
func WithSessionConfig(c SessionManagerConfig) Option {
	return func(r *Router) {
		r.sessions = NewSessionManager(c)
	}
}

// New creates a new router.
func New(opts ...Option) *Router {
	r := &Router{
		mux:             http.NewServeMux(),
		liveRoutes:      make(map[string]*LiveRoute),
		logger:          logging.NopLogger{},
		sessions:        NewSessionManager(DefaultSessionManagerConfig()),
		sockets:         core.NewSocketManager(),
		codecs:          protocol.NewCodecRegistry(),
		transportConfig: transport.DefaultConfig(),
		wsConfig:        transport.DefaultWebSocketConfig(),
	}
	r.errorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		r.logger.Error("request failed", logging.String("path", req.URL.Path), logging.Err(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use adds middleware to the router. It applies to routes registered after the call.
func (r *Router) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// SetErrorHandler sets the error handler.
func (r *Router) SetErrorHandler(handler ErrorHandler) {
	r.errorHandler = handler
}

// Sessions returns the session manager.
func (r *Router) Sessions() *SessionManager {
	return r.sessions
}

// Sockets returns the socket manager.
func (r *Router) Sockets() *core.SocketManager {
	return r.sockets
}

// Live registers a live component route.
func (r *Router) Live(path string, component func() core.Component, opts ...RouteOption) {
	route := &LiveRoute{
		Path:      path,
		Component: component,
		Meta:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(route)
	}

	r.mu.Lock()
	r.liveRoutes[path] = route
	r.mu.Unlock()

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.serveLive(w, req, route)
	})
	for i := len(route.Middleware) - 1; i >= 0; i-- {
		h = route.Middleware[i](h)
	}
	r.mux.Handle(path, r.wrap(h))
}

// Handle registers a standard HTTP handler.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, r.wrap(handler))
}

// HandleFunc registers a standard HTTP handler function.
func (r *Router) HandleFunc(pattern string, handler http.HandlerFunc) {
	r.Handle(pattern, handler)
}

// Group creates a route group with shared prefix and middleware.
func (r *Router) Group(prefix string, fn func(*RouteGroup)) {
	fn(&RouteGroup{router: r, prefix: prefix})
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) wrap(h http.Handler) http.Handler {
	r.mu.RLock()
	middleware := make([]Middleware, len(r.middleware))
	copy(middleware, r.middleware)
	r.mu.RUnlock()

	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

func (r *Router) serveLive(w http.ResponseWriter, req *http.Request, route *LiveRoute) {
	if isWebSocketRequest(req) {
		r.serveWebSocket(w, req, route)
		return
	}

	ctx := req.Context()
	component := route.Component()
	if err := component.Mount(ctx, extractParams(req), extractSession(req)); err != nil {
		r.errorHandler(w, req, err)
		return
	}
	defer component.Terminate(ctx, core.TerminateNormal)

	buf := getBuffer()
	defer putBuffer(buf)
	if err := render(ctx, component, buf); err != nil {
		r.errorHandler(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if route.Layout == nil {
		_, _ = w.Write(buf.Bytes())
		return
	}
	page := getBuffer()
	defer putBuffer(page)
	if err := route.Layout(ctx, page, route, buf.Bytes()); err != nil {
		r.errorHandler(w, req, err)
		return
	}
	_, _ = w.Write(page.Bytes())
}

// serveWebSocket runs the connection until it closes.
func (r *Router) serveWebSocket(w http.ResponseWriter, req *http.Request, route *LiveRoute) {
	logger := r.logger.With(logging.String("path", route.Path))
	ws, err := transport.Accept(w, req, r.transportConfig, r.wsConfig, r.codecs, transport.WithLogger(logger))
	if err != nil {
		logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}

	socket := core.NewSocket(uuid.NewString(), ws)
	if err := r.sockets.Add(socket); err != nil {
		_ = ws.Close()
		return
	}

	component := route.Component()
	if sa, ok := component.(core.SocketAware); ok {
		sa.SetSocket(socket)
	}
	sess := NewLiveSession(component, socket, extractParams(req), extractSession(req))
	sess.Transport = ws
	if evicted := r.sessions.Add(sess); evicted != nil {
		r.disconnect(evicted, core.TerminateTimeout)
	}

	r.wg.Add(1)
	defer r.wg.Done()

	// The connection outlives the upgrade request.
	ctx := core.WithLive(context.WithoutCancel(req.Context()), core.Live{Socket: socket, Session: sess.Session, Params: sess.Params})
	ctx = logging.ContextWithLogger(ctx, logger.With(logging.String("socket", socket.ID())))
	reason := r.messageLoop(ctx, sess, ws)
	r.disconnect(sess, reason)
}

func (r *Router) messageLoop(ctx context.Context, sess *LiveSession, ws *transport.WebSocket) core.TerminateReason {
	for {
		select {
		case msg := <-ws.Receive():
			sess.UpdateActivity()
			switch msg.Type {
			case protocol.MsgJoin:
				r.handleJoin(ctx, sess, msg)
			case protocol.MsgLeave:
				_ = sess.Socket.Send(protocol.OkReply(msg.Ref, msg.Topic, nil))
				return core.TerminateNormal
			case protocol.MsgEvent:
				r.handleEvent(ctx, sess, msg)
			default:
				_ = sess.Socket.Send(protocol.ErrorReply(msg.Ref, msg.Topic, ErrUnsupported.Error()))
			}
		case <-ws.Done():
			return core.TerminateNormal
		case <-ctx.Done():
			return core.TerminateShutdown
		}
	}
}

func (r *Router) handleJoin(ctx context.Context, sess *LiveSession, msg *protocol.Message) {
	sess.SetJoinRef(msg.Ref)
	topic := sess.Socket.Topic()

	if !sess.IsMounted() {
		params := sess.Params
		if joined, ok := msg.Payload["params"].(map[string]any); ok {
			params = mergeParams(params, joined)
			sess.Params = params
		}
		ctx = core.WithLive(ctx, core.Live{Socket: sess.Socket, Session: sess.Session, Params: params})
		if err := sess.Component.Mount(ctx, params, sess.Session); err != nil {
			logging.L(ctx).Warn("mount failed", logging.Err(err))
			_ = sess.Socket.Send(protocol.ErrorReply(msg.Ref, topic, err.Error()))
			return
		}
		sess.SetMounted(true)
	}

	buf := getBuffer()
	defer putBuffer(buf)
	if err := render(ctx, sess.Component, buf); err != nil {
		_ = sess.Socket.Send(protocol.ErrorReply(msg.Ref, topic, err.Error()))
		return
	}
	_ = sess.Socket.Send(protocol.OkReply(msg.Ref, topic, map[string]any{"html": buf.String()}))
}

func (r *Router) handleEvent(ctx context.Context, sess *LiveSession, msg *protocol.Message) {
	topic := sess.Socket.Topic()
	if !sess.IsMounted() {
		_ = sess.Socket.Send(protocol.ErrorReply(msg.Ref, topic, ErrNotJoined.Error()))
		return
	}

	payload := msg.Payload
	if payload == nil {
		payload = make(map[string]any)
	}
	if err := sess.Component.HandleEvent(ctx, msg.Event, payload); err != nil {
		logging.L(ctx).Debug("event rejected", logging.String("event", msg.Event), logging.Err(err))
		_ = sess.Socket.Send(protocol.ErrorReply(msg.Ref, topic, err.Error()))
		return
	}
	_ = sess.Socket.Send(protocol.OkReply(msg.Ref, topic, nil))

	// Components that push their own updates are not re-rendered.
	if _, ok := sess.Component.(core.SocketAware); ok {
		return
	}
	buf := getBuffer()
	defer putBuffer(buf)
	if err := render(ctx, sess.Component, buf); err == nil {
		_ = sess.Socket.PushRender(buf.String())
	}
}

func (r *Router) disconnect(sess *LiveSession, reason core.TerminateReason) {
	r.sessions.Remove(sess.ID)
	r.sockets.Remove(sess.Socket.ID())
	if sess.IsMounted() {
		if err := sess.Component.Terminate(context.Background(), reason); err != nil {
			r.logger.Warn("terminate failed", logging.String("reason", reason.String()), logging.Err(err))
		}
	}
	_ = sess.Socket.Close()
}

// CleanupInactive disconnects sessions idle past the configured TTL.
func (r *Router) CleanupInactive(now time.Time) int {
	expired := r.sessions.Expired(now)
	for _, s := range expired {
		r.disconnect(s, core.TerminateTimeout)
	}
	return len(expired)
}

// RunCleanup calls CleanupInactive every interval until ctx is done.
func (r *Router) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.CleanupInactive(time.Now()); n > 0 {
				r.logger.Info("closed idle live sessions", logging.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown closes every live connection and waits for their loops to end.
func (r *Router) Shutdown(ctx context.Context) error {
	err := r.sockets.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

func render(ctx context.Context, c core.Component, w io.Writer) error {
	renderer := c.Render(ctx)
	if renderer == nil {
		return ErrNilRenderer
	}
	if err := renderer.Render(ctx, w); err != nil {
		return fmt.Errorf("render %s: %w", c.Name(), err)
	}
	return nil
}

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Buffers larger than 64KB are dropped.
func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 64*1024 {
		return
	}
	bufferPool.Put(buf)
}

// extractSession collects the request cookies.
func extractSession(req *http.Request) core.Session {
	session := make(core.Session)
	for _, cookie := range req.Cookies() {
		session["cookie:"+cookie.Name] = cookie.Value
	}
	if id := GetRequestID(req.Context()); id != "" {
		session["request_id"] = id
	}
	return session
}

// extractParams extracts query string parameters.
func extractParams(req *http.Request) core.Params {
	params := make(core.Params)
	for key, values := range req.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

func mergeParams(base core.Params, extra map[string]any) core.Params {
	out := make(core.Params, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if s, ok := v.(string); ok {
			out[k] = s
		} else if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// isWebSocketRequest checks if this is a WebSocket upgrade request.
func isWebSocketRequest(req *http.Request) bool {
	return strings.Contains(strings.ToLower(req.Header.Get("Upgrade")), "websocket")
}

// RouteGroup represents a group of routes with shared prefix/middleware.
type RouteGroup struct {
	router     *Router
	prefix     string
	middleware []Middleware
}

// Use adds middleware to the group.
func (g *RouteGroup) Use(mw Middleware) {
	g.middleware = append(g.middleware, mw)
}

// Live registers a live route in the group.
func (g *RouteGroup) Live(path string, component func() core.Component, opts ...RouteOption) {
	opts = append([]RouteOption{WithRouteMiddleware(g.middleware...)}, opts...)
	g.router.Live(g.prefix+path, component, opts...)
}

// Handle registers a handler in the group.
func (g *RouteGroup) Handle(pattern string, handler http.Handler) {
	g.router.Handle(g.prefix+pattern, g.wrap(handler))
}

// Get registers a GET handler.
func (g *RouteGroup) Get(pattern string, handler http.HandlerFunc) {
	g.router.Handle("GET "+g.prefix+pattern, g.wrap(handler))
}

// Post registers a POST handler.
func (g *RouteGroup) Post(pattern string, handler http.HandlerFunc) {
	g.router.Handle("POST "+g.prefix+pattern, g.wrap(handler))
}

func (g *RouteGroup) wrap(h http.Handler) http.Handler {
	for i := len(g.middleware) - 1; i >= 0; i-- {
		h = g.middleware[i](h)
	}
	return h
}

// RouteOption configures a LiveRoute.
type RouteOption func(*LiveRoute)

// WithLayout sets the page layout.
func WithLayout(layout Layout) RouteOption {
	return func(r *LiveRoute) {
		r.Layout = layout
	}
}

// WithRouteMiddleware adds middleware to the route.
func WithRouteMiddleware(mw ...Middleware) RouteOption {
	return func(r *LiveRoute) {
		r.Middleware = append(r.Middleware, mw...)
	}
}

// WithMeta adds metadata to the route.
func WithMeta(key string, value any) RouteOption {
	return func(r *LiveRoute) {
		r.Meta[key] = value
	}
}
