package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/client"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/router"
)

// MaxBodyBytes bounds every request body.
const MaxBodyBytes = 1 << 20

// Prefix is where the backend endpoints are mounted.
const Prefix = "/report"

// Register mounts the backend endpoints on r under Prefix.
func (s *Server) Register(r *router.Router) {
	r.Group(Prefix, func(g *router.RouteGroup) {
		g.Get("/section/{name}", s.handleSection)
		g.Post("/set_version", s.handleSetVersion)
		g.Get("/fetch_prev_data", s.handlePrevious)
		g.Post("/autosave_story", s.handleAutosave)
		g.Post("/submit_story", s.handleSubmit)
	})
}

// Handler returns the endpoints on a router of their own.
func (s *Server) Handler() http.Handler {
	r := router.New(router.WithLogger(s.logger))
	r.Use(router.RequestID())
	r.Use(logging.RequestLogger(s.logger))
	r.Use(router.Recovery(s.logger))
	s.Register(r)
	return r
}

func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := r.PathValue("name")
	out, err := s.fragments.ByName(s.quests, name)
	s.observe("fragment", start, err)
	if errors.Is(err, quest.ErrNoTemplate) {
		writeError(w, http.StatusNotFound, "Unknown section.")
		return
	}
	if err != nil {
		logging.L(r.Context()).Error("render section", logging.String("name", name), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "The section could not be rendered.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(w, out)
}

type versionRequest struct {
	Version json.RawMessage `json:"version"`
	TokenID string          `json:"tokenId"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := quest.DecodeVersionFlag(req.Version)
	if err == nil {
		err = s.SetVersion(r.Context(), req.TokenID, v)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
	case errors.Is(err, quest.ErrUnknownFormType), errors.Is(err, client.ErrVersionRejected):
		writeJSON(w, http.StatusOK, statusResponse{Status: "failure", Message: "Unknown form version."})
	default:
		s.fail(w, r, err)
	}
}

type previousResponse struct {
	Data        json.RawMessage `json:"data"`
	VersionFlag quest.FormType  `json:"versionFlag"`
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	prev, err := s.PreviousData(r.Context(), r.Header.Get("TokenId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !prev.Found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, previousResponse{Data: prev.Data, VersionFlag: prev.Version})
}

type storyRequest struct {
	Story       json.RawMessage `json:"story"`
	TokenID     string          `json:"token_id"`
	ProductSlug string          `json:"productSlug"`
	// TokenIDCamel is the submit spelling of the token.
	TokenIDCamel string `json:"tokenId"`
}

func (req storyRequest) token() string {
	if req.TokenID != "" {
		return req.TokenID
	}
	return req.TokenIDCamel
}

func (s *Server) handleAutosave(w http.ResponseWriter, r *http.Request) {
	var req storyRequest
	if !decode(w, r, &req) {
		return
	}
	story, ok := s.story(w, r, req)
	if !ok {
		return
	}
	if err := s.Autosave(r.Context(), req.token(), story); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req storyRequest
	if !decode(w, r, &req) {
		return
	}
	story, ok := s.story(w, r, req)
	if !ok {
		return
	}
	tokens := client.StaticTokens{Token: req.token(), Slug: req.ProductSlug}
	body, err := s.Submit(r.Context(), tokens, story)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// story decodes the posted document against its template. Diagnostics are
// logged; the known leaves are kept.
func (s *Server) story(w http.ResponseWriter, r *http.Request, req storyRequest) (*quest.Instance, bool) {
	token := req.token()
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing session token.")
		return nil, false
	}
	t, err := s.templateFor(r.Context(), token, req.Story)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	story, diags, err := quest.DecodeInstance(t, req.Story)
	if err != nil {
		writeError(w, http.StatusBadRequest, "The answers could not be read.")
		return nil, false
	}
	for _, d := range quest.FilterDiagnostics(diags, quest.DiagUnknownKey, quest.DiagTypeMismatch, quest.DiagShapeMismatch) {
		logging.L(r.Context()).Warn("story diagnostic", logging.Token(token), logging.String("detail", d.String()))
	}
	return story, true
}

// fail maps err onto the JSON error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var se *client.StatusError
	switch {
	case errors.As(err, &se):
		writeError(w, se.Code, se.Message)
	case errors.Is(err, client.ErrNoToken):
		writeError(w, http.StatusBadRequest, "Missing session token.")
	case errors.Is(err, quest.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, "The answers could not be read.")
	default:
		logging.L(r.Context()).Error("request failed", logging.String("path", r.URL.Path), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
			return false
		}
		writeError(w, http.StatusBadRequest, "Malformed request body.")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, statusResponse{Status: "failure", Message: msg})
}
