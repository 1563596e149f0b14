package api

import "github.com/starford/apkgview/internal/viewer"

// LoadURLRequest is the request body for loading a remote archive.
type LoadURLRequest struct {
	URL string `json:"url" example:"https://example.com/decks/French.apkg" validate:"required"`
}

// CollapseRequest is the request body for toggling a deck.
type CollapseRequest struct {
	Collapsed *bool `json:"collapsed" example:"true" validate:"required"`
}

// FileInfo is a loaded file (aliased from the domain layer).
type FileInfo = viewer.FileInfo

// DeckView is a deck with display state (aliased from the domain layer).
type DeckView = viewer.DeckView

// NoteRow is a note list item (aliased from the domain layer).
type NoteRow = viewer.NoteRow

// CardInfo is a renderable card of a note (aliased from the domain layer).
type CardInfo = viewer.CardInfo

// RenderedCard is a rendered card face (aliased from the domain layer).
type RenderedCard = viewer.RenderedCard

// FileListResponse wraps loaded files.
type FileListResponse struct {
	Files []FileInfo `json:"files" validate:"required"`
}

// DeckListResponse wraps the decks of a file.
type DeckListResponse struct {
	Decks []DeckView `json:"decks" validate:"required"`
}

// NoteListResponse wraps the notes of a deck.
type NoteListResponse struct {
	Notes []NoteRow `json:"notes" validate:"required"`
	Total int       `json:"total" example:"42" validate:"required"`
}

// CardListResponse wraps the cards of a note.
type CardListResponse struct {
	Cards []CardInfo `json:"cards" validate:"required"`
}

// UploadResponse is returned after a successful archive upload.
type UploadResponse struct {
	File   FileInfo `json:"file" validate:"required"`
	Size   int64    `json:"size" example:"12345" validate:"required"`
	Stored bool     `json:"stored" example:"true"`
}
