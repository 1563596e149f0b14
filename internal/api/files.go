package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/storage"
	"github.com/starford/apkgview/internal/viewer"
)

const maxUploadBytes = 200 << 20 // 200 MB

// FileHandler accepts uploaded archives and unloads files. store may be
// nil, in which case uploads are loaded without being persisted.
type FileHandler struct {
	svc   *viewer.Service
	store storage.Provider
}

// NewFileHandler creates a handler persisting uploads into store.
func NewFileHandler(svc *viewer.Service, store storage.Provider) *FileHandler {
	return &FileHandler{svc: svc, store: store}
}

// safeName validates that the filename is a plain archive name with no
// path separators or traversal.
func (h *FileHandler) safeName(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	cleaned := filepath.Base(filepath.Clean(name))
	if cleaned != name || cleaned == "." || cleaned == ".." {
		return "", false
	}
	if h.store != nil && !h.store.Accepts(cleaned) {
		return "", false
	}
	return cleaned, true
}

// Upload handles POST /api/files/upload (multipart/form-data, field "file").
//
//	@Summary		Upload and load an archive
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Archive"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/upload [post]
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, ok := h.safeName(header.Filename)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid archive name: "+header.Filename))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}

	// Load before persisting so a broken archive never lands in the library.
	info, err := h.svc.Load(r.Context(), archive.BytesSource{Label: name, Data: data})
	if err != nil {
		writeError(w, "upload", err)
		return
	}

	stored := false
	if h.store != nil {
		if err := h.store.Write(name, data); err != nil {
			slog.Error("upload: persist failed", slog.String("file", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("failed to store archive"))
			return
		}
		stored = true
	}

	writeJSON(w, http.StatusCreated, UploadResponse{File: *info, Size: int64(len(data)), Stored: stored})
}

// Delete handles DELETE /api/files/{file}. The archive is also removed
// from the library directory when it lives there.
//
//	@Summary		Unload an archive
//	@Tags			files
//	@Param			file	path	string	true	"File name"
//	@Success		204		"File unloaded"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{file} [delete]
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := fileName(r)
	if err := h.svc.Remove(r.Context(), name); err != nil {
		writeError(w, "delete file", err)
		return
	}
	if h.store != nil {
		if _, ok := h.safeName(name); ok {
			if err := h.store.Delete(name); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("delete file: library removal failed", slog.String("file", name), slog.String("error", err.Error()))
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
