// Package wizard runs the purpose quest form wizard for one user session:
// section loading, part navigation, answer collection and prefill,
// autosave, validation and submission.
//
// A Session is the only owner of the wizard state. User events, prefill
// events and timer callbacks are serialized by the session mutex; network
// calls run outside it on snapshots.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/client"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/schedule"
)

// Session errors.
var (
	ErrNotEditing   = errors.New("no form section is loaded")
	ErrNotSelecting = errors.New("form variant is already chosen")
	ErrReadOnly     = errors.New("answers were submitted and are read-only")
	ErrUnknownField = errors.New("field is not rendered")
	ErrNotStarted   = errors.New("session has not resolved a form type")
	ErrClosed       = errors.New("session is closed")
)

// Backend is the server side the wizard talks to. *client.Client
// implements it.
type Backend interface {
	Fragment(ctx context.Context, t *quest.Template) (string, error)
	SetVersion(ctx context.Context, token string, v quest.FormType) error
	PreviousData(ctx context.Context, token string) (client.Previous, error)
	Autosave(ctx context.Context, token string, story *quest.Instance) error
	Submit(ctx context.Context, tokens client.Tokens, story *quest.Instance) (map[string]any, error)
}

// Phase is the lifecycle stage of a session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSelecting  Phase = "selecting"
	PhaseLoading    Phase = "loading"
	PhaseEditing    Phase = "editing"
	PhaseSubmitting Phase = "submitting"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Outcome is the result of a submit attempt.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeSubmitted Outcome = "submitted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Config tunes a session.
type Config struct {
	MinWords          int
	Autosave          AutosavePolicy
	IndicatorInterval time.Duration
	DashboardURL      string
	// AutoSelect chooses the path's form type instead of showing the
	// selection screen when no variant was stored.
	AutoSelect     bool
	RequestTimeout time.Duration
	MaxNotices     int
}

// DefaultConfig returns the standard wizard settings.
func DefaultConfig() Config {
	return Config{
		MinWords:          quest.DefaultMinWords,
		Autosave:          DefaultAutosavePolicy(),
		IndicatorInterval: IndicatorInterval,
		DashboardURL:      "/dashboard",
		RequestTimeout:    15 * time.Second,
		MaxNotices:        5,
	}
}

// Session is the wizard state of one user session.
type Session struct {
	backend  Backend
	tokens   client.Tokens
	store    *quest.Store
	resolver *quest.Resolver
	sched    schedule.Scheduler
	cfg      Config
	logger   logging.Logger
	onChange func(State)

	mu         sync.Mutex
	phase      Phase
	pathType   quest.FormType
	version    quest.FormType
	tmpl       *quest.Template
	instance   *quest.Instance
	stored     json.RawMessage
	view       *View
	nav        *Navigator
	autosaver  *Autosaver
	indicator  *Indicator
	report     *quest.Report
	clearers   map[string]func()
	notices    []Notice
	diags      []quest.Diagnostic
	submitting bool
	readOnly   bool
	redirect   string
	lastSaved  *quest.Instance
	posted     *quest.Instance
	saves      int
	closed     bool
	rendered   uint64

	wg sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithScheduler sets the clock driving autosave and indicator timers.
func WithScheduler(s schedule.Scheduler) Option {
	return func(ss *Session) {
		ss.sched = s
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(ss *Session) {
		ss.logger = l
	}
}

// WithStore sets the template store.
func WithStore(st *quest.Store) Option {
	return func(ss *Session) {
		ss.store = st
	}
}

// WithResolver sets the path resolver.
func WithResolver(r *quest.Resolver) Option {
	return func(ss *Session) {
		ss.resolver = r
	}
}

// WithConfig sets the session configuration.
func WithConfig(c Config) Option {
	return func(ss *Session) {
		ss.cfg = c
	}
}

// OnChange registers a hook that receives a state snapshot after every
// change. It runs outside the session lock.
func OnChange(fn func(State)) Option {
	return func(ss *Session) {
		ss.onChange = fn
	}
}

// New creates an idle session.
func New(backend Backend, tokens client.Tokens, opts ...Option) *Session {
	s := &Session{
		backend:  backend,
		tokens:   tokens,
		store:    quest.DefaultStore(),
		resolver: quest.NewResolver(),
		sched:    schedule.System(),
		cfg:      DefaultConfig(),
		logger:   logging.NopLogger{},
		phase:    PhaseIdle,
		clearers: make(map[string]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MinWords < 1 {
		s.cfg.MinWords = quest.DefaultMinWords
	}
	if s.cfg.RequestTimeout <= 0 {
		s.cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	s.logger = s.logger.With(logging.Token(tokens.TokenID()))
	s.autosaver = NewAutosaver(s.sched, s.cfg.Autosave, s.autosave)
	s.indicator = NewIndicator(s.sched, s.cfg.IndicatorInterval, func(IndicatorPhase) { s.emit() })
	return s
}

// Start resolves the form type from path, loads the stored answers and
// version flag, and loads the matching section or the selection screen.
// An unresolvable path fails the session.
func (s *Session) Start(ctx context.Context, path string) error {
	ft, err := s.resolver.Resolve(path)
	if err != nil {
		s.mu.Lock()
		s.phase = PhaseFailed
		s.raise(NoticeError, "This page does not belong to a known form.")
		s.mu.Unlock()
		s.logger.Error("resolve form type", logging.String("path", path), logging.Err(err))
		s.emit()
		return err
	}
	tmpl, err := s.store.Get(ft)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.pathType = ft
	s.tmpl = tmpl
	s.instance = quest.NewInstance(tmpl)
	s.mu.Unlock()

	version := quest.Unset
	prev, err := s.previous(ctx)
	switch {
	case err != nil:
		s.logger.Warn("fetch previous data", logging.Err(err))
		s.mu.Lock()
		s.raise(NoticeWarning, "Your saved answers could not be loaded.")
		s.mu.Unlock()
	case prev.Found:
		version = prev.Version
		s.mu.Lock()
		s.stored = prev.Data
		diags := s.mergeStoredLocked(tmpl)
		s.mu.Unlock()
		s.note(diags)
	case ft == quest.Elaborate:
		// Nothing stored yet: the journey page goes straight to its form.
		version = quest.Elaborate
	}
	return s.Load(ctx, version)
}

func (s *Session) previous(ctx context.Context) (client.Previous, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	return s.backend.PreviousData(ctx, s.tokens.TokenID())
}

// mergeStoredLocked decodes the stored document against t and merges it
// into the instance.
func (s *Session) mergeStoredLocked(t *quest.Template) []quest.Diagnostic {
	if len(s.stored) == 0 {
		return nil
	}
	prev, diags, err := quest.DecodeInstance(t, s.stored)
	if err != nil {
		return []quest.Diagnostic{{Kind: quest.DiagTypeMismatch, Message: err.Error()}}
	}
	s.instance.Merge(prev)
	return diags
}

// Load shows the section for version, or the selection screen when
// version is unset. A version naming another template than the current one
// swaps the template and re-decodes the stored answers against it. A failed
// fetch or parse keeps the previous view.
func (s *Session) Load(ctx context.Context, version quest.FormType) error {
	s.mu.Lock()
	if s.tmpl == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.readOnly {
		s.mu.Unlock()
		return ErrReadOnly
	}
	if !version.IsSet() {
		s.phase = PhaseSelecting
		auto, ft := s.cfg.AutoSelect, s.pathType
		s.mu.Unlock()
		if auto {
			return s.Choose(ctx, ft)
		}
		s.emit()
		return nil
	}

	tmpl, err := s.store.Get(version)
	if err != nil {
		s.mu.Unlock()
		s.fail(err)
		return err
	}
	prevPhase := s.phase
	s.phase = PhaseLoading
	s.mu.Unlock()
	s.emit()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	fragment, err := s.backend.Fragment(fetchCtx, tmpl)
	cancel()
	var view *View
	if err == nil {
		view, err = ParseView(fragment)
	}
	if err != nil {
		s.logger.Error("load section", logging.String("fragment", tmpl.Fragment), logging.Err(err))
		s.mu.Lock()
		s.phase = prevPhase
		s.raise(NoticeError, "The form could not be loaded. Please reload the page.")
		s.mu.Unlock()
		s.emit()
		return fmt.Errorf("load %s section: %w", version, err)
	}

	s.mu.Lock()
	var diags []quest.Diagnostic
	if tmpl != s.tmpl {
		diags = append(diags, quest.Diagnostic{
			Kind:    quest.DiagTemplateSwap,
			Message: fmt.Sprintf("stored version %s differs from page type %s", version, s.tmpl.Type),
		})
		old := s.instance
		s.tmpl = tmpl
		s.instance = quest.NewInstance(tmpl)
		diags = append(diags, s.mergeStoredLocked(tmpl)...)
		s.instance.Merge(old)
		s.lastSaved, s.posted = nil, nil
	}
	s.version = version
	s.attachLocked(view)
	diags = append(diags, Prefill(view, s.instance)...)
	s.phase = PhaseEditing
	s.mu.Unlock()

	s.note(diags)
	s.logger.Info("section loaded",
		logging.String("form_type", version.String()),
		logging.Int("parts", view.TotalParts()),
		logging.Int("answered", s.Instance().Answered()),
	)
	s.emit()
	return nil
}

// attachLocked replaces the current view with v, detaching every listener
// of the old one.
func (s *Session) attachLocked(v *View) {
	if s.view != nil {
		s.view.Detach()
	}
	s.autosaver.Stop()
	s.clearers = make(map[string]func())
	s.report = nil

	s.view = v
	s.rendered++
	for _, fv := range v.Fields() {
		fv.setWordCount(quest.WordCountLabel(quest.CountWords(fv.Value()), s.cfg.MinWords))
		fit(fv)
		fv.OnInput(s.handleInputLocked)
	}
	s.nav = NewNavigator(v)
}

// handleInputLocked runs for every real or synthetic input event.
func (s *Session) handleInputLocked(ev InputEvent) {
	fv := ev.Field
	if f, d := bind(s.tmpl, fv); d == nil {
		_ = s.instance.Set(f.ID, ev.Value)
	}
	fit(fv)
	fv.setWordCount(quest.WordCountLabel(quest.CountWords(ev.Value), s.cfg.MinWords))
	if s.readOnly {
		return
	}
	if s.autosaver.Record(fv.Name(), ev.Value, ev.Previous) {
		s.saveLocked()
	}
}

// Choose stores the chosen variant on the backend and loads it.
func (s *Session) Choose(ctx context.Context, ft quest.FormType) error {
	if !ft.IsSet() {
		return quest.ErrUnknownFormType
	}
	s.mu.Lock()
	if s.phase != PhaseSelecting {
		s.mu.Unlock()
		return ErrNotSelecting
	}
	s.mu.Unlock()

	vctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	err := s.backend.SetVersion(vctx, s.tokens.TokenID(), ft)
	cancel()
	if err != nil {
		s.logger.Error("set version", logging.String("form_type", ft.String()), logging.Err(err))
		s.mu.Lock()
		s.raise(NoticeError, "Your choice could not be saved. Please try again.")
		s.mu.Unlock()
		s.emit()
		return err
	}
	return s.Load(ctx, ft)
}

// Input applies user input to a field.
func (s *Session) Input(field, value string) error {
	s.mu.Lock()
	if s.view == nil {
		s.mu.Unlock()
		return ErrNotEditing
	}
	if s.readOnly {
		s.mu.Unlock()
		return ErrReadOnly
	}
	fv := s.view.Field(field)
	if fv == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	err := fv.Input(value)
	s.mu.Unlock()
	s.emit()
	return err
}

// Next shows the next part.
func (s *Session) Next() (int, error) {
	return s.navigate(func(n *Navigator) int { return n.Next() })
}

// Previous shows the previous part.
func (s *Session) Previous() (int, error) {
	return s.navigate(func(n *Navigator) int { return n.Previous() })
}

// Go shows part n, clamped to the form.
func (s *Session) Go(n int) (int, error) {
	return s.navigate(func(nav *Navigator) int { return nav.Go(n) })
}

func (s *Session) navigate(fn func(*Navigator) int) (int, error) {
	s.mu.Lock()
	if s.nav == nil {
		s.mu.Unlock()
		return 0, ErrNotEditing
	}
	part := fn(s.nav)
	s.mu.Unlock()
	s.emit()
	return part, nil
}

// Validate checks the answers and applies the result to the view: failing
// fields are marked, their part tooltips shown, and the first failing part
// is navigated to.
func (s *Session) Validate() (quest.Report, error) {
	s.mu.Lock()
	if s.view == nil {
		s.mu.Unlock()
		return quest.Report{}, ErrNotEditing
	}
	report := s.validateLocked()
	s.mu.Unlock()
	s.emit()
	return report, nil
}

func (s *Session) validateLocked() quest.Report {
	collected, diags := Collect(s.tmpl, s.view)
	s.noteLocked(quest.FilterDiagnostics(diags, quest.DiagUnboundField, quest.DiagSectionKey))
	for _, leaf := range collected.Leaves() {
		if leaf.Set {
			_ = s.instance.Set(leaf.Field.ID, leaf.Value)
		}
	}
	report := quest.Check(s.instance, s.cfg.MinWords)
	s.applyReportLocked(report)
	return report
}

func (s *Session) applyReportLocked(r quest.Report) {
	s.report = &r
	failing := make(map[int]bool)
	for _, fv := range s.view.Fields() {
		bad := r.Failed(fv.Name())
		fv.setInvalid(bad)
		if bad && fv.Part() != nil {
			failing[fv.Part().Index()] = true
		}
		if bad {
			s.watchLocked(fv)
		}
	}
	for _, p := range s.view.Parts() {
		s.view.showTooltip(p, failing[p.Index()])
	}
	if r.FirstPart > 0 {
		s.nav.Go(r.FirstPart)
	}
}

// watchLocked attaches a one-shot listener that clears the field's invalid
// mark once it reaches the word threshold, then removes itself.
func (s *Session) watchLocked(fv *FieldView) {
	if _, ok := s.clearers[fv.Name()]; ok {
		return
	}
	var remove func()
	remove = fv.OnInput(func(ev InputEvent) {
		if quest.CountWords(ev.Value) < s.cfg.MinWords {
			return
		}
		fv.setInvalid(false)
		if p := fv.Part(); p != nil {
			still := false
			for _, other := range p.Fields() {
				still = still || other.Invalid()
			}
			if !still {
				s.view.showTooltip(p, false)
			}
		}
		remove()
		delete(s.clearers, fv.Name())
	})
	s.clearers[fv.Name()] = remove
}

// Submit validates and posts the answers. While a submit is in flight, or
// after a successful one, it returns OutcomeSkipped without posting. A
// successful submit makes the answers read-only and sets the redirect
// target, leaving the guard set.
func (s *Session) Submit(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.submitting || s.readOnly {
		s.mu.Unlock()
		s.logger.Debug("submit skipped, already in flight")
		return OutcomeSkipped, nil
	}
	if s.view == nil {
		s.mu.Unlock()
		return OutcomeFailed, ErrNotEditing
	}
	report := s.validateLocked()
	if !report.Valid() {
		s.mu.Unlock()
		s.logger.Info("submit blocked by validation",
			logging.Int("failures", len(report.Failures)),
			logging.Int("first_part", report.FirstPart),
		)
		s.emit()
		return OutcomeInvalid, nil
	}
	s.submitting = true
	s.phase = PhaseSubmitting
	s.view.setBusy(true)
	story := s.instance.Clone()
	s.mu.Unlock()
	s.emit()

	sctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	_, err := s.backend.Submit(sctx, s.tokens, story)
	cancel()

	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.emit()
	}()
	if err == nil {
		s.readOnly = true
		s.redirect = s.cfg.DashboardURL
		s.phase = PhaseDone
		s.autosaver.Stop()
		s.logger.Info("answers submitted", logging.Int("answered", story.Answered()))
		return OutcomeSubmitted, nil
	}

	s.submitting = false
	s.phase = PhaseEditing
	s.view.setBusy(false)
	var se *client.StatusError
	if errors.As(err, &se) && se.Code == 400 {
		s.raise(NoticeError, se.Message)
		s.logger.Warn("submit rejected", logging.String("message", se.Message))
		return OutcomeRejected, err
	}
	s.raise(NoticeError, "Your answers could not be submitted. Please try again.")
	s.logger.Error("submit failed", logging.Err(err))
	return OutcomeFailed, err
}

// autosave runs when a debounced or idle save falls due.
func (s *Session) autosave() {
	s.mu.Lock()
	if s.view != nil && !s.readOnly && !s.closed {
		s.saveLocked()
	}
	s.mu.Unlock()
}

// Save requests an immediate save of the current answers.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.view == nil {
		return ErrNotEditing
	}
	if s.readOnly {
		return ErrReadOnly
	}
	s.saveLocked()
	return nil
}

// saveLocked posts a snapshot in the background. A snapshot equal to the
// last one posted is skipped.
func (s *Session) saveLocked() {
	story := s.instance.Clone()
	if s.posted != nil && s.posted.Equal(story) {
		s.logger.Debug("autosave skipped, answers unchanged")
		return
	}
	s.posted = story
	token := s.tokens.TokenID()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		err := s.backend.Autosave(ctx, token, story)
		cancel()
		s.afterSave(story, err)
	}()
}

func (s *Session) afterSave(story *quest.Instance, err error) {
	s.mu.Lock()
	if err != nil {
		if s.posted == story {
			s.posted = s.lastSaved
		}
		closed := s.closed
		if !closed {
			s.raise(NoticeWarning, "Your progress could not be saved.")
		}
		s.mu.Unlock()
		s.logger.Warn("autosave failed", logging.Err(err))
		if !closed {
			s.emit()
		}
		return
	}
	s.saves++
	s.lastSaved = story
	if s.closed {
		s.mu.Unlock()
		return
	}
	shown := s.indicator.Show()
	s.mu.Unlock()
	s.logger.Debug("autosaved", logging.Int("answered", story.Answered()), logging.Bool("indicator", shown))
	s.emit()
}

// Wait blocks until every background save has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close runs a pending debounced or idle save, stops every timer and waits
// for background saves. Timer callbacks and save results arriving later
// are ignored.
func (s *Session) Close() {
	if s.autosaver.Flush() {
		s.logger.Debug("flushed pending autosave on close")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	s.autosaver.Stop()
	s.indicator.Stop()
	if s.view != nil {
		s.view.Detach()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Instance returns a copy of the answers.
func (s *Session) Instance() *quest.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance == nil {
		return nil
	}
	return s.instance.Clone()
}

// Template returns the current template, or nil before Start.
func (s *Session) Template() *quest.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tmpl
}

// Diagnostics returns every diagnostic noted so far.
func (s *Session) Diagnostics() []quest.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]quest.Diagnostic(nil), s.diags...)
}

// RenderView writes the current view, with its live values and marks.
func (s *Session) RenderView(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return ErrNotEditing
	}
	return s.view.Render(w)
}

// Field returns the rendered field by name, for inspection.
func (s *Session) Field(name string) *FieldView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return nil
	}
	return s.view.Field(name)
}

// Autosaver returns the session's autosaver.
func (s *Session) Autosaver() *Autosaver { return s.autosaver }

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.phase = PhaseFailed
	s.raise(NoticeError, "The form could not be started.")
	s.mu.Unlock()
	s.logger.Error("session failed", logging.Err(err))
	s.emit()
}

func (s *Session) note(diags []quest.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	s.mu.Lock()
	s.noteLocked(diags)
	s.mu.Unlock()
}

func (s *Session) noteLocked(diags []quest.Diagnostic) {
	for _, d := range diags {
		s.diags = append(s.diags, d)
		s.logger.Warn("answer diagnostic",
			logging.String("kind", string(d.Kind)),
			logging.String("field", d.Field),
			logging.String("detail", d.Message),
		)
	}
}

func (s *Session) emit() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.State())
}
