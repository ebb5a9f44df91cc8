package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/questkit/internal/store"
	"github.com/gabrielmiguelok/questkit/pkg/client"
	"github.com/gabrielmiguelok/questkit/pkg/metrics"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/schedule"
	"github.com/gabrielmiguelok/questkit/pkg/wizard"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func newBackend(t *testing.T) (*Server, *client.Client) {
	t.Helper()
	s := New(store.NewMemory(), WithProductSlug("purpose-quest"))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL)
	require.NoError(t, err)
	return s, c
}

func liteStory(t *testing.T, first, second string) *quest.Instance {
	t.Helper()
	tmpl, err := quest.DefaultStore().Get(quest.Lite)
	require.NoError(t, err)
	in := quest.NewInstance(tmpl)
	require.NoError(t, in.Set("memorable_experience", first))
	require.NoError(t, in.Set("aspirations", second))
	return in
}

func TestSection(t *testing.T) {
	_, c := newBackend(t)
	tmpl, _ := quest.DefaultStore().Get(quest.Lite)

	html, err := c.Fragment(context.Background(), tmpl)
	require.NoError(t, err)
	assert.Contains(t, html, `id="memorable_experience"`)
	assert.Contains(t, html, `id="part2"`)
}

func TestSection_Unknown(t *testing.T) {
	s := New(store.NewMemory())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/section/nope.html", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown section.")
}

func TestPreviousData_Roundtrip(t *testing.T) {
	_, c := newBackend(t)
	ctx := context.Background()

	prev, err := c.PreviousData(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, prev.Found, "unknown token answers 204")

	require.NoError(t, c.SetVersion(ctx, "tok-1", quest.Lite))
	prev, err = c.PreviousData(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, prev.Found)
	assert.Equal(t, quest.Lite, prev.Version)

	story := liteStory(t, "first answer", "")
	require.NoError(t, c.Autosave(ctx, "tok-1", story))

	prev, err = c.PreviousData(ctx, "tok-1")
	require.NoError(t, err)
	tmpl, _ := quest.DefaultStore().Get(quest.Lite)
	got, diags, err := quest.DecodeInstance(tmpl, prev.Data)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.True(t, story.Equal(got))
}

func TestPreviousData_MissingToken(t *testing.T) {
	s := New(store.NewMemory())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/fetch_prev_data", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetVersion_Unknown(t *testing.T) {
	s := New(store.NewMemory())
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"version":"deluxe","tokenId":"tok-1"}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/report/set_version", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failure", resp.Status)
}

func TestSetVersion_LegacyFlag(t *testing.T) {
	s := New(store.NewMemory())
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"version":true,"tokenId":"tok-1"}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/report/set_version", body))
	require.Equal(t, http.StatusOK, rec.Code)

	d, err := s.Drafts().Get(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, quest.Elaborate, d.Version)
}

func TestSubmit_ChecksWordCount(t *testing.T) {
	_, c := newBackend(t)
	ctx := context.Background()
	tokens := client.StaticTokens{Token: "tok-1"}

	_, err := c.Submit(ctx, tokens, liteStory(t, words(25), "too short"))
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, `"Aspirations" needs at least 25 words (has 2)`, se.Message)

	body, err := c.Submit(ctx, tokens, liteStory(t, words(25), words(30)))
	require.NoError(t, err)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "purpose-quest", body["productSlug"], "default slug fills an empty one")
}

func TestSubmit_ReadOnlyAfterwards(t *testing.T) {
	s, c := newBackend(t)
	ctx := context.Background()
	tokens := client.StaticTokens{Token: "tok-1", Slug: "purpose-quest-lite"}
	story := liteStory(t, words(25), words(25))

	_, err := c.Submit(ctx, tokens, story)
	require.NoError(t, err)

	err = c.Autosave(ctx, "tok-1", story)
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)

	_, err = c.Submit(ctx, tokens, story)
	assert.True(t, client.IsBadRequest(err))

	d, err := s.Drafts().Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, d.Submitted)
	assert.Equal(t, "purpose-quest-lite", d.ProductSlug)
}

func TestSubmit_Metrics(t *testing.T) {
	m := metrics.NewQuest("test")
	s := New(store.NewMemory(), WithMetrics(m))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()
	tokens := client.StaticTokens{Token: "tok-1"}

	_, err = c.Submit(ctx, tokens, liteStory(t, words(25), "too short"))
	require.Error(t, err)
	_, err = c.Submit(ctx, tokens, liteStory(t, words(25), words(25)))
	require.NoError(t, err)
	_, err = c.Submit(ctx, tokens, liteStory(t, words(25), words(25)))
	require.Error(t, err)

	assert.Equal(t, map[string]float64{"rejected": 1, "accepted": 1, "duplicate": 1}, m.Submits.Values())
	assert.Equal(t, 3.0, m.Requests.Values()["submit"])
	assert.Equal(t, 2.0, m.Errors.Values()["submit"])
	assert.Equal(t, int64(3), m.Latency.Stats().Count)
}

func TestSubmit_UsesStoredVersion(t *testing.T) {
	_, c := newBackend(t)
	ctx := context.Background()
	require.NoError(t, c.SetVersion(ctx, "tok-1", quest.Simple))

	// A lite document checked as the simple form misses four answers.
	_, err := c.Submit(ctx, client.StaticTokens{Token: "tok-1"}, liteStory(t, words(25), words(25)))
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, `"Life Lesson"`)
}

func TestMalformedBodies(t *testing.T) {
	s := New(store.NewMemory())
	h := s.Handler()

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"not json", "/report/autosave_story", `{`, http.StatusBadRequest},
		{"missing token", "/report/autosave_story", `{"story":{}}`, http.StatusBadRequest},
		{"story not an object", "/report/submit_story", `{"story":[1],"tokenId":"t"}`, http.StatusBadRequest},
		{"foreign keys", "/report/submit_story", `{"story":{"Favorite Color":"blue"},"tokenId":"t"}`, http.StatusBadRequest},
		{"too large", "/report/autosave_story", `{"story":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestDetect(t *testing.T) {
	st := quest.DefaultStore()

	tests := []struct {
		name string
		doc  string
		want quest.FormType
	}{
		{"lite", `{"Memorable Experience":"a","Aspirations":null}`, quest.Lite},
		{"simple", `{"Memorable Experience":"a","Legacy":"b"}`, quest.Simple},
		{"elaborate", `{"Past Experiences":{"Foundational Memories":{"childhood_memory":"a"}}}`, quest.Elaborate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.doc), &doc))
			got, err := Detect(st, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Type)
		})
	}

	_, err := Detect(st, map[string]any{"Favorite Color": "blue"})
	assert.True(t, client.IsBadRequest(err))
}

func TestServer_InProcessWizard(t *testing.T) {
	s := New(store.NewMemory())
	ctx := context.Background()
	clock := schedule.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	sess := wizard.New(s, client.StaticTokens{Token: "tok-1", Slug: "purpose-quest"}, wizard.WithScheduler(clock))
	defer sess.Close()

	require.NoError(t, sess.Start(ctx, "/purpose-quest-lite"))
	require.Equal(t, wizard.PhaseSelecting, sess.State().Phase)
	require.NoError(t, sess.Choose(ctx, quest.Lite))

	require.NoError(t, sess.Input("memorable_experience", words(25)))
	require.NoError(t, sess.Input("aspirations", words(26)))
	require.NoError(t, sess.Save())
	sess.Wait()

	prev, err := s.PreviousData(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, prev.Found)
	assert.Equal(t, quest.Lite, prev.Version)

	out, err := sess.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, wizard.OutcomeSubmitted, out)

	d, err := s.Drafts().Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, d.Submitted)
}
