package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/storage"
	"github.com/starford/apkgview/internal/viewer"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// store, if non-nil, receives uploaded archives.
// fetcher downloads remote archives; nil means a guarded default.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *viewer.Service, store storage.Provider, fetcher *archive.Fetcher, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, fetcher)
	fh := NewFileHandler(svc, store)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Files.
	r.Get("/files", h.ListFiles)
	r.Post("/files", h.LoadURL)
	r.Post("/files/upload", fh.Upload)
	r.Delete("/files/{file}", fh.Delete)

	// Decks.
	r.Get("/files/{file}/decks", h.ListDecks)
	r.Patch("/files/{file}/decks/{id}", h.PatchDeck)
	r.Get("/files/{file}/decks/{id}/notes", h.ListNotes)

	// Cards.
	r.Get("/files/{file}/notes/{id}/cards", h.ListCards)
	r.Get("/files/{file}/notes/{id}/cards/{index}", h.GetCard)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
