package preload

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StatusRouter returns an HTTP router exposing the server's preload state
// for external monitoring, per the DOMAIN STACK's preloader introspection
// endpoint. It is independent of the Unix-domain job socket: operators can
// run it on a loopback TCP port without granting job-dispatch access.
func (s *Server) StatusRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.info())
	})
	r.Get("/workers", func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		names := make([]string, 0, len(s.pools))
		for id := range s.pools {
			names = append(names, id)
		}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"processors": names, "workers": s.Workers})
	})
	return r
}
