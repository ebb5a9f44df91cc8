package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gabrielmiguelok/questkit/internal/config"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func testBackend(t *testing.T) *app {
	t.Helper()
	a, err := newApp(config.Default(), logging.NopLogger{})
	require.NoError(t, err)
	srv := httptest.NewServer(a.router)
	t.Cleanup(func() {
		srv.Close()
		_ = a.drafts.Close()
	})
	a.cfg.Server.Address = srv.URL
	return a
}

func TestResolve(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/purpose-quest", "simple\t" + quest.SimpleFragment},
		{"/purpose-quest-lite", "lite\t" + quest.LiteFragment},
		{"https://example.com/purpose-journey?token=abc", "elaborate\t" + quest.ElaborateFragment},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			out, err := execute(t, "resolve", tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out)
		})
	}

	_, err := execute(t, "resolve", "/settings")
	assert.ErrorIs(t, err, quest.ErrUnresolvedPath)
}

func TestTemplate_YAML(t *testing.T) {
	out, err := execute(t, "template", "lite")
	require.NoError(t, err)

	var doc templateDoc
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "lite", doc.Type)
	assert.Equal(t, quest.LiteFragment, doc.Fragment)
	assert.Equal(t, 2, doc.Parts)
	require.Len(t, doc.Fields, 2)
	assert.Equal(t, "memorable_experience", doc.Fields[0].ID)
	assert.Equal(t, []string{"Aspirations"}, doc.Fields[1].Path)
}

func TestTemplate_HTML(t *testing.T) {
	out, err := execute(t, "template", "elaborate", "--html")
	require.NoError(t, err)
	assert.Contains(t, out, `name="childhood_memory"`)
}

func TestTemplate_Unknown(t *testing.T) {
	_, err := execute(t, "template", "unset")
	assert.ErrorIs(t, err, quest.ErrUnknownFormType)
	_, err = execute(t, "template", "novel")
	assert.ErrorIs(t, err, quest.ErrUnknownFormType)
}

func TestConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: postgres\n"), 0o600))
	_, err := execute(t, "--config", path, "resolve", "/purpose-quest")
	assert.ErrorIs(t, err, config.ErrUnknownStoreDriver)
}

func writeAnswers(t *testing.T, answers map[string]string) string {
	t.Helper()
	data, err := yaml.Marshal(answers)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "answers.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFill_Submits(t *testing.T) {
	a := testBackend(t)
	answers := writeAnswers(t, map[string]string{
		"memorable_experience": words(30),
		"aspirations":          words(25),
	})

	out, err := execute(t, "fill", "--backend", a.cfg.Server.Address, "--type", "lite", "--token", "tok-1", "--answers", answers)
	require.NoError(t, err)
	assert.Contains(t, out, "form: lite")
	assert.Contains(t, out, "outcome: submitted")
	assert.Contains(t, out, "answered: 2/2")

	d, err := a.drafts.Get(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, d.Submitted)
	assert.Equal(t, quest.Lite, d.Version)
	assert.Equal(t, "purpose-quest", d.ProductSlug)
	assert.Equal(t, 1.0, a.metrics.Submits.Values()["accepted"])
}

func TestFill_Incomplete(t *testing.T) {
	a := testBackend(t)
	answers := writeAnswers(t, map[string]string{"memorable_experience": "too short"})

	out, err := execute(t, "fill", "--backend", a.cfg.Server.Address, "--type", "lite", "--token", "tok-2", "--answers", answers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Memorable Experience" needs at least 25 words (has 2)`)
	assert.Contains(t, out, "outcome: invalid")

	d, err := a.drafts.Get(context.Background(), "tok-2")
	require.NoError(t, err)
	assert.False(t, d.Submitted)
}

func TestFill_SelectionNeedsType(t *testing.T) {
	a := testBackend(t)
	_, err := execute(t, "fill", "--backend", a.cfg.Server.Address, "--path", "/purpose-quest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--type")
}

func TestFill_UnknownField(t *testing.T) {
	a := testBackend(t)
	answers := writeAnswers(t, map[string]string{"legacy": words(30)})
	_, err := execute(t, "fill", "--backend", a.cfg.Server.Address, "--type", "lite", "--answers", answers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legacy")
}

type scriptedPrompter struct {
	choice  string
	asked   []string
	selects [][]string
}

func (p *scriptedPrompter) TextArea(ctx context.Context, message, help, def string) (string, error) {
	p.asked = append(p.asked, message)
	return words(26), nil
}

func (p *scriptedPrompter) Select(ctx context.Context, message string, options []string) (int, error) {
	p.selects = append(p.selects, options)
	for i, o := range options {
		if o == p.choice {
			return i, nil
		}
	}
	return -1, nil
}

func TestFill_Interactive(t *testing.T) {
	a := testBackend(t)
	prompter := &scriptedPrompter{choice: "Purpose Quest Lite"}
	opts := &fillOptions{
		backend:     a.cfg.Server.Address,
		token:       "tok-3",
		path:        "/purpose-quest",
		interactive: true,
		prompter:    prompter,
	}
	root := &rootOptions{cfg: config.Default()}

	var out bytes.Buffer
	require.NoError(t, opts.run(context.Background(), &out, root))
	assert.Contains(t, out.String(), "outcome: submitted")

	require.Len(t, prompter.selects, 1)
	assert.Equal(t, []string{"Purpose Quest", "Purpose Quest Lite", "Purpose Journey"}, prompter.selects[0])
	require.Len(t, prompter.asked, 2, "one prompt per lite field")

	d, err := a.drafts.Get(context.Background(), "tok-3")
	require.NoError(t, err)
	assert.True(t, d.Submitted)
}

func TestServe_HealthAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.ShutdownTimeout = 5 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logging.NopLogger{}, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "templates")

	resp, err = http.Get(base + "/report/section/" + quest.LiteFragment)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `questkit_backend_requests_total{op="fragment"} 1`)
	assert.Contains(t, string(body), "questkit_live_sessions 0")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
