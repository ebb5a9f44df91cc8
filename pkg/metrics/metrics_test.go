package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuest_Observe(t *testing.T) {
	q := NewQuest("questkit")
	start := time.Now().Add(-10 * time.Millisecond)
	q.Observe("autosave", start, nil)
	q.Observe("autosave", start, errors.New("store down"))
	q.Observe("submit", start, nil)
	q.Submits.Inc("accepted")

	assert.Equal(t, map[string]float64{"autosave": 2, "submit": 1}, q.Requests.Values())
	assert.Equal(t, map[string]float64{"autosave": 1}, q.Errors.Values())
	st := q.Latency.Stats()
	assert.Equal(t, int64(3), st.Count)
	assert.GreaterOrEqual(t, st.Min, 0.01)
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry("questkit")
	c := r.Counter("drafts_total", "Drafts created.")
	c.Add(3)
	c.Add(-1)
	cv := r.CounterVec("submits_total", "Submits.", "outcome")
	cv.Inc("rejected")
	cv.Inc("accepted")
	cv.Inc("accepted")
	r.GaugeFunc("live_sessions", "Live sessions.", func() float64 { return 4 })
	r.Histogram("backend_duration_seconds", "Latency.")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, out, "# TYPE questkit_drafts_total counter\nquestkit_drafts_total 3\n")
	assert.Contains(t, out, "questkit_submits_total{outcome=\"accepted\"} 2\nquestkit_submits_total{outcome=\"rejected\"} 1\n")
	assert.Contains(t, out, "questkit_live_sessions 4\n")
	assert.Contains(t, out, "questkit_backend_duration_seconds_count 0\nquestkit_backend_duration_seconds_min 0\n")
	assert.Less(t, strings.Index(out, "drafts_total"), strings.Index(out, "live_sessions"), "registration order")
}
