package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/core"
	"github.com/gabrielmiguelok/questkit/pkg/protocol"
	"github.com/gabrielmiguelok/questkit/pkg/transport"
)

// MockComponent implements core.Component for testing.
type MockComponent struct {
	mu         sync.Mutex
	mounted    core.Params
	events     []string
	terminated []core.TerminateReason
	count      int
	failEvent  string
	live       bool
}

func (c *MockComponent) Name() string {
	return "MockComponent"
}

func (c *MockComponent) Mount(ctx context.Context, params core.Params, session core.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounted = params
	_, c.live = core.LiveFromContext(ctx)
	return nil
}

func (c *MockComponent) Render(ctx context.Context) core.Renderer {
	return core.RendererFunc(func(ctx context.Context, w io.Writer) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, err := fmt.Fprintf(w, "<div>count %d</div>", c.count)
		return err
	})
}

func (c *MockComponent) HandleEvent(ctx context.Context, event string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event == c.failEvent {
		return errors.New("rejected")
	}
	c.events = append(c.events, event)
	c.count++
	return nil
}

func (c *MockComponent) Terminate(ctx context.Context, reason core.TerminateReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = append(c.terminated, reason)
	return nil
}

func (c *MockComponent) params() core.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

func (c *MockComponent) mountedLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *MockComponent) terminateReasons() []core.TerminateReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.TerminateReason(nil), c.terminated...)
}

// nilComponent renders nothing.
type nilComponent struct{ MockComponent }

func (c *nilComponent) Render(ctx context.Context) core.Renderer { return nil }

func TestRouter_Live_InitialHTTPRender(t *testing.T) {
	r := New()
	var component *MockComponent
	r.Live("/quest", func() core.Component {
		component = &MockComponent{}
		return component
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quest?token=abc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if component.params().Get("token") != "abc" {
		t.Errorf("expected query params on mount, got %v", component.params())
	}
	if !strings.Contains(rec.Body.String(), "count 0") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("expected text/html, got %q", ct)
	}
	if got := component.terminateReasons(); len(got) != 1 || got[0] != core.TerminateNormal {
		t.Errorf("static render should terminate the component, got %v", got)
	}
	if component.mountedLive() {
		t.Error("static render must not carry a live connection")
	}
}

func TestRouter_Layout(t *testing.T) {
	r := New()
	r.Live("/", func() core.Component { return &MockComponent{} },
		WithLayout(func(ctx context.Context, w io.Writer, route *LiveRoute, body []byte) error {
			_, err := fmt.Fprintf(w, "<main data-path=%q>%s</main>", route.Path, body)
			return err
		}),
		WithMeta("title", "Quest"),
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if want := `<main data-path="/"><div>count 0</div></main>`; rec.Body.String() != want {
		t.Errorf("expected %q, got %q", want, rec.Body.String())
	}
	if r.liveRoutes["/"].Meta["title"] != "Quest" {
		t.Error("expected meta to be stored")
	}
}

func TestRouter_ErrorHandler(t *testing.T) {
	r := New()
	var got error
	r.SetErrorHandler(func(w http.ResponseWriter, req *http.Request, err error) {
		got = err
		http.Error(w, "Custom Error", http.StatusTeapot)
	})
	r.Live("/", func() core.Component { return &nilComponent{} })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot || !errors.Is(got, ErrNilRenderer) {
		t.Errorf("expected ErrNilRenderer through the handler, got %d %v", rec.Code, got)
	}
}

func TestRouter_Middleware(t *testing.T) {
	r := New()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Middleware", "applied")
			next.ServeHTTP(w, r)
		})
	})
	r.HandleFunc("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Header().Get("X-Middleware") != "applied" {
		t.Error("expected middleware to be applied")
	}
}

func TestRouter_Group(t *testing.T) {
	r := New()
	r.Group("/report", func(g *RouteGroup) {
		g.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Group", "report")
				next.ServeHTTP(w, r)
			})
		})
		g.Get("/fetch_prev_data", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("prev"))
		})
		g.Post("/autosave_story", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("saved"))
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/fetch_prev_data", nil))
	if rec.Body.String() != "prev" || rec.Header().Get("X-Group") != "report" {
		t.Errorf("unexpected GET response %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/report/autosave_story", nil))
	if rec.Body.String() != "saved" {
		t.Errorf("unexpected POST response %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/autosave_story", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for wrong method, got %d", rec.Code)
	}
}

func TestRouter_isWebSocketRequest(t *testing.T) {
	tests := []struct {
		name     string
		upgrade  string
		expected bool
	}{
		{"websocket", "websocket", true},
		{"mixed case", "WebSocket", true},
		{"none", "", false},
		{"other upgrade", "h2c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			if got := isWebSocketRequest(req); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestMergeParams(t *testing.T) {
	got := mergeParams(core.Params{"token": "a", "keep": "x"}, map[string]any{"token": "b", "n": 3, "skip": nil})
	want := core.Params{"token": "b", "keep": "x", "n": "3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}
}

func dialLive(t *testing.T, srv *httptest.Server, path string) *transport.WebSocket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := transport.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func roundTrip(t *testing.T, ws *transport.WebSocket, msg *protocol.Message) *protocol.Message {
	t.Helper()
	if err := ws.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-ws.Receive():
			if got.Type == protocol.MsgReply && got.Ref == msg.Ref {
				return got
			}
		case <-timeout:
			t.Fatalf("no reply to ref %s", msg.Ref)
		}
	}
}

func TestRouter_WebSocketLifecycle(t *testing.T) {
	r := New()
	component := &MockComponent{failEvent: "boom"}
	r.Live("/live", func() core.Component { return component })
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws := dialLive(t, srv, "/live?token=abc")

	early := roundTrip(t, ws, protocol.EventMessage("", "next", nil).WithRef("0"))
	if early.GetPayloadString("status") != "error" {
		t.Errorf("events before join must be rejected, got %+v", early.Payload)
	}

	join := roundTrip(t, ws, protocol.JoinMessage("", map[string]any{"params": map[string]any{"path": "/purpose-quest"}}).WithRef("1"))
	resp, _ := join.Payload["response"].(map[string]any)
	if join.GetPayloadString("status") != "ok" || resp["html"] != "<div>count 0</div>" {
		t.Fatalf("unexpected join reply %+v", join.Payload)
	}
	if !strings.HasPrefix(join.Topic, core.TopicPrefix) {
		t.Errorf("expected socket topic, got %q", join.Topic)
	}
	if component.params().Get("token") != "abc" || component.params().Get("path") != "/purpose-quest" {
		t.Errorf("expected query and join params merged, got %v", component.params())
	}
	if !component.mountedLive() {
		t.Error("join mount should carry the live connection")
	}

	ok := roundTrip(t, ws, protocol.EventMessage(join.Topic, "next", nil).WithRef("2"))
	if ok.GetPayloadString("status") != "ok" {
		t.Errorf("expected ok reply, got %+v", ok.Payload)
	}
	select {
	case msg := <-ws.Receive():
		if msg.Type != protocol.MsgRender || msg.GetPayloadString("html") != "<div>count 1</div>" {
			t.Errorf("expected a re-render, got %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no render after event")
	}

	failed := roundTrip(t, ws, protocol.EventMessage(join.Topic, "boom", nil).WithRef("3"))
	if failed.GetPayloadString("status") != "error" {
		t.Errorf("expected error reply, got %+v", failed.Payload)
	}

	if err := ws.Send(protocol.NewMessage(protocol.MsgLeave, join.Topic, "").WithRef("4")); err != nil {
		t.Fatalf("Send leave: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for r.Sessions().Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Sessions().Count() != 0 || r.Sockets().Count() != 0 {
		t.Error("leave should drop the session and socket")
	}
	if got := component.terminateReasons(); len(got) != 1 || got[0] != core.TerminateNormal {
		t.Errorf("expected one normal terminate, got %v", got)
	}
}

func TestRouter_Shutdown(t *testing.T) {
	r := New()
	component := &MockComponent{}
	r.Live("/live", func() core.Component { return component })
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws := dialLive(t, srv, "/live")
	roundTrip(t, ws, protocol.JoinMessage("", nil).WithRef("1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-ws.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client connection should close on shutdown")
	}
	if len(component.terminateReasons()) != 1 {
		t.Error("expected the component to be terminated")
	}
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager(SessionManagerConfig{MaxSessions: 2, SessionTTL: time.Minute})

	s1 := NewLiveSession(&MockComponent{}, nil, nil, nil)
	s1.lastActivity = time.Now().Add(-2 * time.Minute)
	s2 := NewLiveSession(&MockComponent{}, nil, nil, nil)
	s3 := NewLiveSession(&MockComponent{}, nil, nil, nil)

	if ev := sm.Add(s1); ev != nil {
		t.Fatal("unexpected eviction")
	}
	sm.Add(s2)
	if ev := sm.Add(s3); ev != s1 {
		t.Errorf("expected the oldest session evicted, got %v", ev)
	}
	if sm.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", sm.Count())
	}
	if _, ok := sm.Get(s2.ID); !ok {
		t.Error("expected s2")
	}

	if expired := sm.Expired(time.Now().Add(2 * time.Minute)); len(expired) != 2 {
		t.Errorf("expected both sessions expired, got %d", len(expired))
	}
	if sm.Count() != 0 {
		t.Error("expired sessions should be removed")
	}
}

func TestLiveSession_Mounted(t *testing.T) {
	s := NewLiveSession(&MockComponent{}, nil, nil, nil)
	if s.IsMounted() {
		t.Error("expected not mounted initially")
	}
	s.SetMounted(true)
	s.SetJoinRef("7")
	if !s.IsMounted() || s.JoinRef() != "7" {
		t.Error("expected mounted with join ref")
	}
}

func BenchmarkRouter_ServeHTTP(b *testing.B) {
	r := New()
	r.Live("/", func() core.Component { return &MockComponent{} })
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
}
