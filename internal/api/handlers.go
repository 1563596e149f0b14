package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/apkgview/internal/apperr"
	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/viewer"
)

// Handler holds API route handlers.
type Handler struct {
	svc     *viewer.Service
	fetcher *archive.Fetcher
}

// NewHandler creates a new Handler. fetcher downloads remote archives; nil
// means a guarded fetcher with default limits.
func NewHandler(svc *viewer.Service, fetcher *archive.Fetcher) *Handler {
	if fetcher == nil {
		fetcher = archive.NewFetcher(defaultFetchTimeout, archive.DefaultMaxBytes)
	}
	return &Handler{svc: svc, fetcher: fetcher}
}

const defaultFetchTimeout = 30 * time.Second

// fileName extracts the {file} parameter. Supports encoded characters from
// clients that escape spaces and the like (e.g. My%20Deck.apkg).
func fileName(r *http.Request) string {
	raw := chi.URLParam(r, "file")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrInvalidInput, name)
	}
	return v, nil
}

// ListFiles handles GET /api/files.
//
//	@Summary		List loaded archives
//	@Tags			files
//	@Produce		json
//	@Success		200	{object}	FileListResponse
//	@Security		BearerAuth
//	@Router			/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FileListResponse{Files: h.svc.Files(r.Context())})
}

// LoadURL handles POST /api/files.
//
//	@Summary		Fetch and load a remote archive
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoadURLRequest	true	"Archive location"
//	@Success		201		{object}	FileInfo
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files [post]
func (h *Handler) LoadURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req LoadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	src, err := h.fetcher.Source(req.URL)
	if err != nil {
		writeError(w, "load url", err)
		return
	}
	info, err := h.svc.Load(r.Context(), src)
	if err != nil {
		writeError(w, "load url", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// ListDecks handles GET /api/files/{file}/decks.
//
//	@Summary		List the normalised decks of a file
//	@Tags			decks
//	@Produce		json
//	@Param			file	path		string	true	"File name"
//	@Success		200		{object}	DeckListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{file}/decks [get]
func (h *Handler) ListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := h.svc.Decks(r.Context(), fileName(r))
	if err != nil {
		writeError(w, "list decks", err)
		return
	}
	writeJSON(w, http.StatusOK, DeckListResponse{Decks: decks})
}

// PatchDeck handles PATCH /api/files/{file}/decks/{id}.
//
//	@Summary		Collapse or expand a deck
//	@Tags			decks
//	@Accept			json
//	@Produce		json
//	@Param			file	path		string			true	"File name"
//	@Param			id		path		int				true	"Deck id"
//	@Param			body	body		CollapseRequest	true	"New state"
//	@Success		200		{object}	DeckView
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{file}/decks/{id} [patch]
func (h *Handler) PatchDeck(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, "patch deck", err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CollapseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Collapsed == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("collapsed is required"))
		return
	}
	d, err := h.svc.SetCollapsed(r.Context(), fileName(r), id, *req.Collapsed)
	if err != nil {
		writeError(w, "patch deck", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListNotes handles GET /api/files/{file}/decks/{id}/notes.
//
//	@Summary		List the notes of a deck
//	@Tags			notes
//	@Produce		json
//	@Param			file	path		string	true	"File name"
//	@Param			id		path		int		true	"Deck id"
//	@Param			q		query		string	false	"Substring filter"
//	@Success		200		{object}	NoteListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{file}/decks/{id}/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	notes, err := h.svc.Notes(r.Context(), fileName(r), id, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// ListCards handles GET /api/files/{file}/notes/{id}/cards.
//
//	@Summary		List the cards a note renders as
//	@Tags			cards
//	@Produce		json
//	@Param			file	path		string	true	"File name"
//	@Param			id		path		int		true	"Note id"
//	@Success		200		{object}	CardListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{file}/notes/{id}/cards [get]
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, "list cards", err)
		return
	}
	cards, err := h.svc.Cards(r.Context(), fileName(r), id)
	if err != nil {
		writeError(w, "list cards", err)
		return
	}
	writeJSON(w, http.StatusOK, CardListResponse{Cards: cards})
}

// GetCard handles GET /api/files/{file}/notes/{id}/cards/{index}.
//
//	@Summary		Render one side of a card
//	@Tags			cards
//	@Produce		json
//	@Param			file	path		string	true	"File name"
//	@Param			id		path		int		true	"Note id"
//	@Param			index	path		int		true	"Card index"
//	@Param			side	query		string	false	"Card side"		Enums(question, answer)
//	@Param			format	query		string	false	"Output format"	Enums(html, text)
//	@Success		200		{object}	RenderedCard
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{file}/notes/{id}/cards/{index} [get]
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, "render card", err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("index must be an integer"))
		return
	}
	q := r.URL.Query()
	side, err := viewer.ParseSide(q.Get("side"))
	if err != nil {
		writeError(w, "render card", err)
		return
	}
	var text bool
	switch q.Get("format") {
	case "", "html":
	case "text":
		text = true
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("format must be html or text"))
		return
	}

	card, err := h.svc.RenderCard(r.Context(), fileName(r), id, index, side, text)
	if err != nil {
		writeError(w, "render card", err)
		return
	}
	slog.Debug("card rendered",
		slog.String("file", card.File),
		slog.Int64("note", card.NoteID),
		slog.Int("card", card.Card))
	writeJSON(w, http.StatusOK, card)
}
