package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetFile(t *testing.T) {
	data, err := GetFile("quest.js")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if !strings.Contains(string(data), "quest-root") {
		t.Error("quest.js does not look for the wizard root")
	}
	if _, err := GetFile("missing.js"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quest.js", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "javascript") {
		t.Errorf("unexpected content type %q", ct)
	}
}
