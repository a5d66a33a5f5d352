package autorun

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

// NewStatusRouter serves driver progress as JSON, for glancing at a long
// campaign from another machine.
func NewStatusRouter(d *Driver) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(d.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return r
}
