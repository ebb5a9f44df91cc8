// Package client talks to the purpose quest backend: fragments, version
// flag, previous answers, autosave and submit.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/retry"
)

// Common client errors.
var (
	ErrVersionRejected = errors.New("backend rejected version flag")
	ErrNoToken         = errors.New("session token is empty")
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Code)
}

// IsBadRequest reports whether err is a 400 StatusError.
func IsBadRequest(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusBadRequest
}

// Tokens provides the opaque session token and product slug.
type Tokens interface {
	TokenID() string
	ProductSlug() string
}

// StaticTokens is a fixed Tokens value.
type StaticTokens struct {
	Token string
	Slug  string
}

func (s StaticTokens) TokenID() string     { return s.Token }
func (s StaticTokens) ProductSlug() string { return s.Slug }

// Paths are the backend endpoints.
type Paths struct {
	Section      string
	SetVersion   string
	PreviousData string
	Autosave     string
	Submit       string
}

// DefaultPaths returns the /report endpoints.
func DefaultPaths() Paths {
	return Paths{
		Section:      "/report/section/",
		SetVersion:   "/report/set_version",
		PreviousData: "/report/fetch_prev_data",
		Autosave:     "/report/autosave_story",
		Submit:       "/report/submit_story",
	}
}

// Client is a backend API client.
type Client struct {
	base    *url.URL
	http    *http.Client
	paths   Paths
	logger  logging.Logger
	breaker *Breaker
	retry   *retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithPaths overrides endpoint paths.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		c.paths = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithBreaker guards autosave posts with b. While the breaker is open
// Autosave returns ErrCircuitOpen without contacting the backend.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 15 * time.Second},
		paths:  DefaultPaths(),
		logger: logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

// WithRetry retries the read endpoints (fragment and previous data) on
// network errors, 429 and 5xx responses. A nil config uses
// retry.DefaultConfig.
func WithRetry(config *retry.Config) Option {
	return func(c *Client) {
		if config == nil {
			config = retry.DefaultConfig()
		}
		cfg := *config
		if cfg.RetryIf == nil {
			cfg.RetryIf = Retryable
		}
		c.retry = &cfg
	}
}

// Retryable reports whether a read failure may succeed on another attempt.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	return !errors.Is(err, ErrNoToken)
}

func withRetry[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if c.retry == nil {
		return fn(ctx)
	}
	cfg := *c.retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("retrying backend read",
			logging.String("op", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	return retry.Do(ctx, &cfg, fn)
}

// Fragment fetches the HTML section for a template.
func (c *Client) Fragment(ctx context.Context, t *quest.Template) (string, error) {
	return withRetry(ctx, c, "fetch fragment", func(ctx context.Context) (string, error) {
		return c.fragment(ctx, t)
	})
}

func (c *Client) fragment(ctx context.Context, t *quest.Template) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(c.paths.Section+url.PathEscape(t.Fragment)), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("fetch fragment %s: %w", t.Fragment, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("fetch fragment", resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read fragment %s: %w", t.Fragment, err)
	}
	return string(body), nil
}

type versionRequest struct {
	Version quest.FormType `json:"version"`
	TokenID string         `json:"tokenId"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SetVersion persists the chosen form variant for the session.
func (c *Client) SetVersion(ctx context.Context, token string, v quest.FormType) error {
	if token == "" {
		return ErrNoToken
	}
	resp, err := c.postJSON(ctx, c.paths.SetVersion, versionRequest{Version: v, TokenID: token})
	if err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("set version", resp)
	}
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("set version: decode response: %w", err)
	}
	if body.Status == "failure" {
		return fmt.Errorf("%w: %s", ErrVersionRejected, body.Message)
	}
	return nil
}

// Previous is the answer state stored for a session.
type Previous struct {
	Found   bool
	Data    json.RawMessage
	Version quest.FormType
}

type previousResponse struct {
	Data        json.RawMessage `json:"data"`
	VersionFlag json.RawMessage `json:"versionFlag"`
}

// PreviousData loads previously saved answers. A 204 response yields a
// Previous with Found false.
func (c *Client) PreviousData(ctx context.Context, token string) (Previous, error) {
	if token == "" {
		return Previous{}, ErrNoToken
	}
	return withRetry(ctx, c, "fetch previous data", func(ctx context.Context) (Previous, error) {
		return c.previousData(ctx, token)
	})
}

func (c *Client) previousData(ctx context.Context, token string) (Previous, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(c.paths.PreviousData), nil)
	if err != nil {
		return Previous{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TokenId", token)

	resp, err := c.do(req)
	if err != nil {
		return Previous{}, fmt.Errorf("fetch previous data: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return Previous{}, nil
	case http.StatusOK:
	default:
		return Previous{}, statusError("fetch previous data", resp)
	}

	var body previousResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Previous{}, fmt.Errorf("fetch previous data: decode: %w", err)
	}
	flag, err := quest.DecodeVersionFlag(body.VersionFlag)
	if err != nil {
		return Previous{}, fmt.Errorf("fetch previous data: %w", err)
	}
	return Previous{Found: true, Data: body.Data, Version: flag}, nil
}

type autosaveRequest struct {
	Story   *quest.Instance `json:"story"`
	TokenID string          `json:"token_id"`
}

// Autosave posts an in-progress answer document.
func (c *Client) Autosave(ctx context.Context, token string, story *quest.Instance) error {
	if token == "" {
		return ErrNoToken
	}
	if c.breaker == nil {
		return c.autosave(ctx, token, story)
	}
	return c.breaker.Execute(func() error {
		return c.autosave(ctx, token, story)
	})
}

func (c *Client) autosave(ctx context.Context, token string, story *quest.Instance) error {
	resp, err := c.postJSON(ctx, c.paths.Autosave, autosaveRequest{Story: story, TokenID: token})
	if err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("autosave", resp)
	}
	return nil
}

type submitRequest struct {
	Story       *quest.Instance `json:"story"`
	ProductSlug string          `json:"productSlug"`
	TokenID     string          `json:"tokenId"`
}

// Submit posts the finished answer document. A 200 with any JSON body is a
// success, and an object body is returned; a 400 body's message becomes
// the StatusError message.
func (c *Client) Submit(ctx context.Context, tokens Tokens, story *quest.Instance) (map[string]any, error) {
	token := tokens.TokenID()
	if token == "" {
		return nil, ErrNoToken
	}
	resp, err := c.postJSON(ctx, c.paths.Submit, submitRequest{
		Story:       story,
		ProductSlug: tokens.ProductSlug(),
		TokenID:     token,
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Any JSON value is a success; only an object is handed back.
		var body any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("submit: decode response: %w", err)
		}
		obj, _ := body.(map[string]any)
		return obj, nil
	case http.StatusBadRequest:
		var body statusResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		msg := body.Message
		if msg == "" {
			msg = "Error submitting the form."
		}
		return nil, &StatusError{Op: "submit", Code: resp.StatusCode, Message: msg}
	default:
		return nil, statusError("submit", resp)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			logging.String("method", req.Method),
			logging.String("path", req.URL.Path),
			logging.Err(err),
		)
		return nil, err
	}
	c.logger.Debug("backend request",
		logging.String("method", req.Method),
		logging.String("path", req.URL.Path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var env statusResponse
	msg := ""
	if json.Unmarshal(body, &env) == nil {
		msg = env.Message
	}
	return &StatusError{Op: op, Code: resp.StatusCode, Message: msg}
}
