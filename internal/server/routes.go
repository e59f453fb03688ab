package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MKhiriev/go-doc-sync/internal/adapter"
	"github.com/MKhiriev/go-doc-sync/internal/config"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

// Deps are the collaborators the sync routes need.
type Deps struct {
	Docs   store.DocumentStore
	Blobs  store.BlobStore
	App    config.App
	Logger *logger.Logger
}

// NewRouter builds the passive peer's routes: the sync websocket endpoint
// and the version API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/version", versionHandler(deps.App))
	r.Get("/sync", newSyncHandler(deps).serve)

	return r
}

func versionHandler(app config.App) http.HandlerFunc {
	info := models.AppInfo{
		Version:         app.Version,
		ProtocolVersion: adapter.ProtocolVersion,
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
