package collection

import (
	"context"

	"github.com/starford/apkgview/internal/deck"
	"github.com/starford/apkgview/internal/models"
	"github.com/starford/apkgview/internal/render"
)

// Blobs retrieves archive entries on demand.
type Blobs interface {
	Entry(name string) ([]byte, error)
}

// Column names with derived values.
const (
	ColumnSortField = "sfld"
	ColumnQuestion  = "question"
	ColumnAnswer    = "answer"
)

// File is one loaded archive. It is immutable after Build except for the
// Collapsed flag of its decks, which belongs to whoever owns the File.
type File struct {
	Name   string
	Models map[int64]*models.Model
	Decks  []*models.Deck
	Notes  []*models.Note
	Media  map[string]string

	blobs  Blobs
	byPath map[string]string
	byNote map[int64]*models.Note
}

func newFile(name string, m map[int64]*models.Model, decks []*models.Deck, notes []*models.Note, media map[string]string, blobs Blobs) *File {
	byNote := make(map[int64]*models.Note, len(notes))
	for _, n := range notes {
		byNote[n.ID] = n
	}
	return &File{
		Name:   name,
		Models: m,
		Decks:  decks,
		Notes:  notes,
		Media:  media,
		blobs:  blobs,
		byPath: reverseMedia(media),
		byNote: byNote,
	}
}

// Deck returns the deck with the given id, or nil.
func (f *File) Deck(id int64) *models.Deck {
	return deck.Find(f.Decks, id)
}

// Hidden reports whether d is hidden by a collapsed ancestor.
func (f *File) Hidden(d *models.Deck) bool {
	return deck.IsHidden(d, f.Decks)
}

// Note returns the note with the given id, or nil.
func (f *File) Note(id int64) *models.Note {
	return f.byNote[id]
}

// Model returns the note type of n, or nil.
func (f *File) Model(n *models.Note) *models.Model {
	return f.Models[n.ModelID]
}

// NotesInDeck returns the notes whose primary card is in deck id. Notes
// without cards never match.
func (f *File) NotesInDeck(id int64) []*models.Note {
	var out []*models.Note
	for _, n := range f.Notes {
		if n.InDeck(id) {
			out = append(out, n)
		}
	}
	return out
}

// Templates returns the renderable templates of n.
func (f *File) Templates(n *models.Note) []*models.Template {
	m := f.Model(n)
	if m == nil {
		return nil
	}
	return render.Templates(m, n)
}

// Column returns a display value for n: the text-only question or answer of
// the first template, the sort field, or the named field's raw value.
func (f *File) Column(n *models.Note, name string) string {
	m := f.Model(n)
	switch name {
	case ColumnSortField:
		return n.SortField
	case ColumnQuestion, ColumnAnswer:
		if m == nil || len(m.Templates) == 0 {
			return ""
		}
		return render.StripHTML(render.Render(m, m.Templates[0], n, render.Options{
			Flipped:  name == ColumnAnswer,
			TextOnly: true,
		}))
	}
	if m == nil {
		return ""
	}
	if i := m.FieldIndex(name); i >= 0 {
		if values := n.Values(); i < len(values) {
			return values[i]
		}
	}
	return ""
}

// Lookup finds the storage key whose original path is path.
func (f *File) Lookup(path string) (string, bool) {
	key, ok := f.byPath[path]
	return key, ok
}

// Blob decompresses the entry stored under key.
func (f *File) Blob(_ context.Context, key string) ([]byte, error) {
	return f.blobs.Entry(key)
}
