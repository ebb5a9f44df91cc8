// Package server implements the /report backend the wizard talks to: section
// fragments, the version flag, previous answers, autosave and submit, all
// persisted in a draft store.
//
// A *Server is also a wizard.Backend, so live pages served by the same
// process skip the HTTP round trip.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gabrielmiguelok/questkit/internal/fragments"
	"github.com/gabrielmiguelok/questkit/internal/store"
	"github.com/gabrielmiguelok/questkit/pkg/client"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/metrics"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

// Messages returned to the wizard in 400 bodies.
const (
	msgAlreadySubmitted = "These answers were already submitted."
	msgNoTemplate       = "The answers do not match any known form."
)

// Server serves and persists quest drafts.
type Server struct {
	drafts    store.Store
	quests    *quest.Store
	fragments *fragments.Renderer
	minWords  int
	slug      string
	logger    logging.Logger
	metrics   *metrics.Quest
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithTemplates sets the template store.
func WithTemplates(q *quest.Store) Option {
	return func(s *Server) {
		s.quests = q
	}
}

// WithFragments sets the section renderer.
func WithFragments(r *fragments.Renderer) Option {
	return func(s *Server) {
		s.fragments = r
	}
}

// WithMinWords sets the word threshold enforced on submit.
func WithMinWords(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.minWords = n
		}
	}
}

// WithProductSlug sets the slug recorded when a submit carries none.
func WithProductSlug(slug string) Option {
	return func(s *Server) {
		s.slug = slug
	}
}

// WithMetrics records every backend operation in m.
func WithMetrics(m *metrics.Quest) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server over drafts.
func New(drafts store.Store, opts ...Option) *Server {
	s := &Server{
		drafts:   drafts,
		quests:   quest.DefaultStore(),
		minWords: quest.DefaultMinWords,
		logger:   logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fragments == nil {
		s.fragments = fragments.New(fragments.WithMinWords(s.minWords))
	}
	return s
}

// Templates returns the template store.
func (s *Server) Templates() *quest.Store { return s.quests }

// Drafts returns the draft store.
func (s *Server) Drafts() store.Store { return s.drafts }

func (s *Server) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Observe(op, start, err)
	}
}

func (s *Server) countSubmit(outcome string) {
	if s.metrics != nil {
		s.metrics.Submits.Inc(outcome)
	}
}

// Fragment renders the section markup for t.
func (s *Server) Fragment(ctx context.Context, t *quest.Template) (html string, err error) {
	defer func(start time.Time) { s.observe("fragment", start, err) }(time.Now())
	return s.fragments.Section(t)
}

// SetVersion records the chosen form type.
func (s *Server) SetVersion(ctx context.Context, token string, v quest.FormType) (err error) {
	defer func(start time.Time) { s.observe("set_version", start, err) }(time.Now())
	if token == "" {
		return client.ErrNoToken
	}
	if !v.IsSet() {
		return fmt.Errorf("%w: %s", client.ErrVersionRejected, v)
	}
	if err := s.drafts.SetVersion(ctx, token, v); err != nil {
		return s.storeError("set version", err)
	}
	s.logger.Info("version set", logging.Token(token), logging.String("form_type", v.String()))
	return nil
}

// PreviousData returns the stored answers and version flag. A token with
// nothing stored yields Found false.
func (s *Server) PreviousData(ctx context.Context, token string) (prev client.Previous, err error) {
	defer func(start time.Time) { s.observe("previous", start, err) }(time.Now())
	if token == "" {
		return client.Previous{}, client.ErrNoToken
	}
	d, err := s.drafts.Get(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return client.Previous{}, nil
	}
	if err != nil {
		return client.Previous{}, fmt.Errorf("fetch previous data: %w", err)
	}
	if !d.HasData() && !d.Version.IsSet() {
		return client.Previous{}, nil
	}
	data := d.Data
	if !d.HasData() {
		data = json.RawMessage("null")
	}
	return client.Previous{Found: true, Data: data, Version: d.Version}, nil
}

// Autosave replaces the stored answers.
func (s *Server) Autosave(ctx context.Context, token string, story *quest.Instance) (err error) {
	defer func(start time.Time) { s.observe("autosave", start, err) }(time.Now())
	if token == "" {
		return client.ErrNoToken
	}
	data, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("autosave: encode: %w", err)
	}
	if err := s.drafts.SaveData(ctx, token, data); err != nil {
		return s.storeError("autosave", err)
	}
	s.logger.Debug("draft saved", logging.Token(token), logging.Int("answered", story.Answered()))
	return nil
}

// Submit checks every answer against the word threshold and stores the
// final document. Failures come back as 400 StatusErrors whose message
// names the first failing field.
func (s *Server) Submit(ctx context.Context, tokens client.Tokens, story *quest.Instance) (resp map[string]any, err error) {
	defer func(start time.Time) { s.observe("submit", start, err) }(time.Now())
	token := tokens.TokenID()
	if token == "" {
		return nil, client.ErrNoToken
	}
	if report := quest.Check(story, s.minWords); !report.Valid() {
		s.logger.Info("submit rejected",
			logging.Token(token),
			logging.Int("failures", len(report.Failures)),
			logging.String("first", report.Failures[0].Field.ID),
		)
		s.countSubmit("rejected")
		return nil, badRequest(report.Error())
	}

	slug := tokens.ProductSlug()
	if slug == "" {
		slug = s.slug
	}
	data, err := json.Marshal(story)
	if err != nil {
		return nil, fmt.Errorf("submit: encode: %w", err)
	}
	if err := s.drafts.Submit(ctx, token, slug, data); err != nil {
		if errors.Is(err, store.ErrSubmitted) {
			s.countSubmit("duplicate")
			return nil, badRequest(msgAlreadySubmitted)
		}
		return nil, s.storeError("submit", err)
	}
	s.logger.Info("answers submitted",
		logging.Token(token),
		logging.String("product", slug),
		logging.String("form_type", story.Template().Type.String()),
	)
	s.countSubmit("accepted")
	return map[string]any{"status": "success", "productSlug": slug}, nil
}

// templateFor picks the template a posted document is checked against: the
// stored version when one was chosen, otherwise the template the document
// fits best.
func (s *Server) templateFor(ctx context.Context, token string, raw json.RawMessage) (*quest.Template, error) {
	if d, err := s.drafts.Get(ctx, token); err == nil && d.Version.IsSet() {
		return s.quests.Get(d.Version)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", quest.ErrInvalidDocument, err)
	}
	return Detect(s.quests, doc)
}

// Detect returns the template in st that doc fits with the fewest
// diagnostics. A document with keys outside every template fails.
func Detect(st *quest.Store, doc map[string]any) (*quest.Template, error) {
	var (
		best  *quest.Template
		score = -1
	)
	for _, ft := range st.Types() {
		t, err := st.Get(ft)
		if err != nil {
			continue
		}
		_, diags := quest.FromDocument(t, doc)
		if len(quest.FilterDiagnostics(diags, quest.DiagUnknownKey, quest.DiagShapeMismatch)) > 0 {
			continue
		}
		if best == nil || len(diags) < score {
			best, score = t, len(diags)
		}
	}
	if best == nil {
		return nil, badRequest(msgNoTemplate)
	}
	return best, nil
}

func (s *Server) storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrSubmitted):
		return &client.StatusError{Op: op, Code: http.StatusConflict, Message: msgAlreadySubmitted}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func badRequest(msg string) *client.StatusError {
	return &client.StatusError{Op: "submit", Code: http.StatusBadRequest, Message: msg}
}
