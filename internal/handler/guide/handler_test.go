package guide

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(guide.NewMemoryStore(guide.Seed())).RegisterRoutes(r)
	return r
}

func TestListGuides(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/guides", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(guide.Seed()) {
		t.Fatalf("expected %d guides, got %d", len(guide.Seed()), len(got))
	}
	if _, leaked := got[0]["systemPrompt"]; leaked {
		t.Fatal("system prompt must not be exposed")
	}
}

func TestGetGuide(t *testing.T) {
	r := setupRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/guides/"+guide.DefaultID, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/guides/nobody", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
