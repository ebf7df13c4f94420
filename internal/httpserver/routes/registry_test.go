package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/logger"
)

func tagging(tag string) Guard {
	return func(deps.Deps) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("X-Guard", tag)
				next.ServeHTTP(w, r)
			})
		}
	}
}

func TestRegisterAllAppliesGuardsPerGroup(t *testing.T) {
	saved := groups
	t.Cleanup(func() { groups = saved })
	groups = nil

	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	Register("open", func(r chi.Router, _ deps.Deps) { r.Get("/open", ok) })
	Register("guarded", func(r chi.Router, _ deps.Deps) { r.Get("/guarded", ok) }, tagging("a"), tagging("b"))

	r := chi.NewRouter()
	RegisterAll(r, deps.Deps{Logger: logger.NewNop()})

	tests := []struct {
		path string
		want []string
	}{
		{"/open", nil},
		{"/guarded", []string{"a", "b"}},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: status = %d", tt.path, rec.Code)
		}
		got := rec.Header().Values("X-Guard")
		if len(got) != len(tt.want) {
			t.Fatalf("%s: guards = %v, want %v", tt.path, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: guard %d = %q, want %q", tt.path, i, got[i], tt.want[i])
			}
		}
	}
}
