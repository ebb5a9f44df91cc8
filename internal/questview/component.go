// Package questview serves the purpose quest wizard as a live page: the
// wizard session runs on the server and the page only forwards events and
// applies the markup and state pushed back over its socket.
package questview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gabrielmiguelok/questkit/pkg/client"
	"github.com/gabrielmiguelok/questkit/pkg/core"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/schedule"
	"github.com/gabrielmiguelok/questkit/pkg/wizard"
)

// ErrUnknownEvent is returned for events the wizard does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// Deps are shared by every wizard page.
type Deps struct {
	Backend     wizard.Backend
	Templates   *quest.Store
	Config      wizard.Config
	ProductSlug string
	Logger      logging.Logger
	// Scheduler drives autosave timers. Nil uses the system clock.
	Scheduler schedule.Scheduler
	Views     *Views
}

// Component is the live wizard for one page visit.
type Component struct {
	core.BaseComponent

	deps  Deps
	path  string
	token string

	session *wizard.Session
	live    atomic.Bool

	mu           sync.Mutex
	lastRendered uint64
	lastPhase    wizard.Phase
}

// New creates the wizard component for the page at path.
func New(deps Deps, path string) *Component {
	if deps.Templates == nil {
		deps.Templates = quest.DefaultStore()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger{}
	}
	if deps.Views == nil {
		deps.Views = DefaultViews()
	}
	return &Component{deps: deps, path: path}
}

func (c *Component) Name() string { return "quest" }

// Token returns the session token, set by Mount.
func (c *Component) Token() string { return c.token }

// Session returns the wizard session, nil for a static render.
func (c *Component) Session() *wizard.Session { return c.session }

// Mount picks the session token and, on a socket, starts the wizard. A
// static render only draws the page shell carrying the token.
func (c *Component) Mount(ctx context.Context, params core.Params, session core.Session) error {
	c.token = params.Get("token")
	if c.token == "" {
		c.token = uuid.NewString()
	}
	if c.Socket() == nil {
		return nil
	}

	opts := []wizard.Option{
		wizard.WithConfig(c.deps.Config),
		wizard.WithStore(c.deps.Templates),
		wizard.WithLogger(c.deps.Logger.With(logging.String("page", c.path))),
		wizard.OnChange(c.changed),
	}
	if c.deps.Scheduler != nil {
		opts = append(opts, wizard.WithScheduler(c.deps.Scheduler))
	}
	tokens := client.StaticTokens{Token: c.token, Slug: c.deps.ProductSlug}
	c.session = wizard.New(c.deps.Backend, tokens, opts...)

	err := c.session.Start(ctx, c.path)
	st := c.session.State()
	c.mu.Lock()
	c.lastRendered, c.lastPhase = st.Rendered, st.Phase
	c.mu.Unlock()
	c.live.Store(true)
	if errors.Is(err, quest.ErrUnresolvedPath) {
		return err
	}
	// Other start failures are shown as notices on the page.
	return nil
}

// Render draws the wizard in its current phase.
func (c *Component) Render(ctx context.Context) core.Renderer {
	return core.RendererFunc(func(ctx context.Context, w io.Writer) error {
		return c.deps.Views.Wizard(w, c.model())
	})
}

// HandleEvent applies one page event to the session.
func (c *Component) HandleEvent(ctx context.Context, event string, payload map[string]any) error {
	if c.session == nil {
		return wizard.ErrNotStarted
	}
	s := c.session
	switch event {
	case "input":
		return s.Input(stringValue(payload["field"]), stringValue(payload["value"]))
	case "next":
		_, err := s.Next()
		return err
	case "prev":
		_, err := s.Previous()
		return err
	case "go":
		n, err := intValue(payload["part"])
		if err != nil {
			return fmt.Errorf("go: %w", err)
		}
		_, err = s.Go(n)
		return err
	case "choose":
		ft, err := quest.ParseFormType(stringValue(payload["value"]))
		if err != nil {
			return err
		}
		return s.Choose(ctx, ft)
	case "validate":
		_, err := s.Validate()
		return err
	case "submit":
		out, err := s.Submit(ctx)
		if out == wizard.OutcomeRejected || (out == wizard.OutcomeFailed && !errors.Is(err, wizard.ErrNotEditing)) {
			// Shown as a notice.
			return nil
		}
		return err
	case "save":
		return s.Save()
	case "dismiss":
		s.DismissNotices()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// Terminate saves unsaved answers and stops the session.
func (c *Component) Terminate(ctx context.Context, reason core.TerminateReason) error {
	c.live.Store(false)
	if c.session == nil {
		return nil
	}
	if err := c.session.Save(); err == nil {
		c.deps.Logger.Debug("flushed answers on disconnect", logging.Token(c.token), logging.String("reason", reason.String()))
	}
	c.session.Close()
	return nil
}

// changed pushes a full render when the section or phase moved, and a state
// snapshot otherwise.
func (c *Component) changed(st wizard.State) {
	if !c.live.Load() {
		return
	}
	sock := c.Socket()
	if sock == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.Rendered == c.lastRendered && st.Phase == c.lastPhase {
		_ = sock.PushState(st)
		return
	}
	c.lastRendered, c.lastPhase = st.Rendered, st.Phase

	var buf bytes.Buffer
	if err := c.deps.Views.Wizard(&buf, c.model()); err != nil {
		c.deps.Logger.Error("render wizard", logging.Token(c.token), logging.Err(err))
		return
	}
	_ = sock.PushRender(buf.String())
	_ = sock.PushState(st)
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func intValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("not a part number: %v", v)
	}
}
