// Package health reports liveness and readiness of the quest server.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

// Status represents the health status of a service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status     Status  `json:"status"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	Details    any     `json:"details,omitempty"`
}

// Report is the overall health.
type Report struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Check defines a single health check.
type Check struct {
	Name    string
	Fn      CheckFunc
	Timeout time.Duration
	// Critical failures make the report unhealthy; others degrade it.
	Critical bool
}

const defaultCheckTimeout = 5 * time.Second

// Checker runs the registered checks.
type Checker struct {
	mu      sync.RWMutex
	checks  []Check
	version string
}

// NewChecker creates a checker reporting version.
func NewChecker(version string) *Checker {
	return &Checker{version: version}
}

// Add registers a non-critical check.
func (hc *Checker) Add(name string, fn CheckFunc, timeout time.Duration) {
	hc.add(Check{Name: name, Fn: fn, Timeout: timeout})
}

// AddCritical registers a critical check.
func (hc *Checker) AddCritical(name string, fn CheckFunc, timeout time.Duration) {
	hc.add(Check{Name: name, Fn: fn, Timeout: timeout, Critical: true})
}

func (hc *Checker) add(c Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, c)
}

// Run executes every check concurrently.
func (hc *Checker) Run(ctx context.Context) Report {
	hc.mu.RLock()
	checks := append([]Check(nil), hc.checks...)
	version := hc.version
	hc.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now().UTC(),
		Version:   version,
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range checks {
		g.Go(func() error {
			result := runCheck(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[c.Name] = result
			if result.Status != StatusHealthy {
				if c.Critical {
					report.Status = StatusUnhealthy
				} else if report.Status == StatusHealthy {
					report.Status = StatusDegraded
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func runCheck(ctx context.Context, c Check) CheckResult {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.Fn(ctx)
	result := CheckResult{
		Status:     StatusHealthy,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		if de, ok := err.(*DetailError); ok {
			result.Details = de.Details
		}
	}
	return result
}

// LivenessHandler answers 200 while the process runs.
func (hc *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "alive",
			"timestamp": time.Now().UTC(),
		})
	})
}

// ReadinessHandler answers 503 when a critical check fails.
func (hc *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := hc.Run(r.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DetailError is a check failure carrying structured details.
type DetailError struct {
	Message string
	Details map[string]any
}

func (e *DetailError) Error() string {
	return e.Message
}

// Pinger is anything that can probe its backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes p.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// TemplatesCheck fails when a form type has no registered template.
func TemplatesCheck(store *quest.Store) CheckFunc {
	return func(ctx context.Context) error {
		var missing []string
		for _, ft := range quest.FormTypes() {
			if _, err := store.Get(ft); err != nil {
				missing = append(missing, ft.String())
			}
		}
		if len(missing) > 0 {
			return &DetailError{
				Message: fmt.Sprintf("%d form types without a template", len(missing)),
				Details: map[string]any{"missing": missing},
			}
		}
		return nil
	}
}

// CapacityCheck fails once count reaches max.
func CapacityCheck(count func() int, max int) CheckFunc {
	return func(ctx context.Context) error {
		n := count()
		if max > 0 && n >= max {
			return &DetailError{
				Message: "live sessions at capacity",
				Details: map[string]any{"current": n, "max": max},
			}
		}
		return nil
	}
}
