// Package viewer owns the archives loaded in a session and answers the
// browse and render queries the transports expose.
package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/starford/apkgview/internal/apperr"
	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/collection"
	"github.com/starford/apkgview/internal/deck"
	"github.com/starford/apkgview/internal/media"
	"github.com/starford/apkgview/internal/models"
	"github.com/starford/apkgview/internal/render"
	"github.com/starford/apkgview/internal/storage"
)

// Side selects the face of a card.
type Side string

const (
	SideQuestion Side = "question"
	SideAnswer   Side = "answer"
)

// ParseSide accepts "question", "answer" or the empty string (question).
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case "", SideQuestion:
		return SideQuestion, nil
	case SideAnswer:
		return SideAnswer, nil
	}
	return "", fmt.Errorf("%w: side must be question or answer, got %q", apperr.ErrInvalidInput, s)
}

// Linkers mints media links per loaded file and forgets them on unload.
// *media.Registry implements it.
type Linkers interface {
	Linker(scope string) media.Linker
	Revoke(scope string) int
}

// Inline links every blob as a data: URI. Nothing needs revoking.
type Inline struct{}

func (Inline) Linker(string) media.Linker { return media.DataURILinker{} }
func (Inline) Revoke(string) int          { return 0 }

// Config tunes loading and rendering.
type Config struct {
	Language         language.Tag
	StrictHierarchy  bool
	MediaConcurrency int
}

// FileInfo is a lightweight item in a file list.
type FileInfo struct {
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	Checksum string    `json:"checksum"`
	Models   int       `json:"models"`
	Decks    int       `json:"decks"`
	Notes    int       `json:"notes"`
	LoadedAt time.Time `json:"loaded_at"`
}

// DeckView is a deck with derived display state.
type DeckView struct {
	models.Deck
	Depth  int  `json:"depth"`
	Hidden bool `json:"hidden"`
	Notes  int  `json:"notes"`
}

// NoteRow is one line of a deck's note list.
type NoteRow struct {
	ID        int64    `json:"id"`
	SortField string   `json:"sort_field"`
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Tags      []string `json:"tags"`
	Cards     int      `json:"cards"`
}

// CardInfo names one renderable card of a note.
type CardInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Ord   int    `json:"ord"`
}

// RenderedCard is the output of RenderCard.
type RenderedCard struct {
	File    string `json:"file"`
	NoteID  int64  `json:"note_id"`
	Card    int    `json:"card"`
	Name    string `json:"name"`
	Side    Side   `json:"side"`
	Content string `json:"content"`
	Text    bool   `json:"text"`
	HasMath bool   `json:"has_math"`
}

type loaded struct {
	file     *collection.File
	info     FileInfo
	counts   map[int64]int
	checksum string
	// scope keys this load's media links. Each load gets a fresh one so a
	// reload never serves or revokes links of another load.
	scope string
}

// Service coordinates loaded archives, their decks and rendering.
type Service struct {
	cfg     Config
	linkers Linkers
	logger  *slog.Logger

	mu        sync.RWMutex
	files     map[string]*loaded
	observers []Observer
}

// NewService creates a new viewer service.
func NewService(cfg Config, linkers Linkers, logger *slog.Logger) *Service {
	if cfg.Language == language.Und {
		cfg.Language = language.English
	}
	if linkers == nil {
		linkers = Inline{}
	}
	return &Service{cfg: cfg, linkers: linkers, logger: logger, files: make(map[string]*loaded)}
}

// Load reads src and adds its File to the library, replacing any File with
// the same name.
func (s *Service) Load(ctx context.Context, src archive.Source) (*FileInfo, error) {
	f, data, err := collection.Load(ctx, src, s.logger,
		deck.WithLanguage(s.cfg.Language),
		deck.WithStrict(s.cfg.StrictHierarchy))
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int)
	for _, n := range f.Notes {
		if n.DeckID != nil {
			counts[*n.DeckID]++
		}
	}
	sum := storage.Checksum(data)
	l := &loaded{
		file:     f,
		counts:   counts,
		checksum: sum,
		scope:    f.Name + "@" + uuid.NewString(),
		info: FileInfo{
			Name:     f.Name,
			Source:   sourceKind(src),
			Checksum: sum,
			Models:   len(f.Models),
			Decks:    len(f.Decks),
			Notes:    len(f.Notes),
			LoadedAt: time.Now(),
		},
	}

	s.mu.Lock()
	prev, replaced := s.files[f.Name]
	s.files[f.Name] = l
	s.mu.Unlock()

	if replaced {
		s.linkers.Revoke(prev.scope)
	}
	s.notify(Change{Kind: ChangeFileLoaded, File: f.Name, Replaced: replaced})
	info := l.info
	return &info, nil
}

// Remove drops the File called name and revokes its media links.
func (s *Service) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	l, ok := s.files[name]
	delete(s.files, name)
	s.mu.Unlock()
	if !ok {
		return apperr.ErrNotFound
	}
	n := s.linkers.Revoke(l.scope)
	s.logger.Info("viewer: file removed", slog.String("file", name), slog.Int("revoked", n))
	s.notify(Change{Kind: ChangeFileRemoved, File: name})
	return nil
}

// Files lists the loaded files by name.
func (s *Service) Files(_ context.Context) []FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FileInfo, 0, len(s.files))
	for _, l := range s.files {
		out = append(out, l.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Checksum returns the content digest of a loaded file.
func (s *Service) Checksum(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.files[name]
	if !ok {
		return "", false
	}
	return l.checksum, true
}

// Decks returns the normalised decks of a file in display order.
func (s *Service) Decks(_ context.Context, name string) ([]DeckView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.get(name)
	if err != nil {
		return nil, err
	}
	out := make([]DeckView, len(l.file.Decks))
	for i, d := range l.file.Decks {
		out[i] = l.view(d)
	}
	return out, nil
}

// SetCollapsed changes a deck's collapsed flag and notifies observers.
func (s *Service) SetCollapsed(_ context.Context, name string, id int64, collapsed bool) (*DeckView, error) {
	s.mu.Lock()
	l, err := s.get(name)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	d := l.file.Deck(id)
	if d == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("deck %d: %w", id, apperr.ErrNotFound)
	}
	changed := d.Collapsed != collapsed
	d.Collapsed = collapsed
	v := l.view(d)
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeDeckCollapsed, File: name, DeckID: id, Collapsed: collapsed})
	}
	return &v, nil
}

// Notes lists the notes whose primary card sits in deck id. A non-empty q
// keeps notes whose sort field, question or answer contains it, ignoring case.
func (s *Service) Notes(_ context.Context, name string, id int64, q string) ([]NoteRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if l.file.Deck(id) == nil {
		return nil, fmt.Errorf("deck %d: %w", id, apperr.ErrNotFound)
	}

	q = strings.ToLower(strings.TrimSpace(q))
	out := []NoteRow{}
	for _, n := range l.file.NotesInDeck(id) {
		row := NoteRow{
			ID:        n.ID,
			SortField: l.file.Column(n, collection.ColumnSortField),
			Question:  l.file.Column(n, collection.ColumnQuestion),
			Answer:    l.file.Column(n, collection.ColumnAnswer),
			Tags:      nonNilSlice(n.TagList()),
			Cards:     len(l.file.Templates(n)),
		}
		if q != "" && !matches(q, row.SortField, row.Question, row.Answer) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Cards lists the renderable cards of a note.
func (s *Service) Cards(_ context.Context, name string, noteID int64) ([]CardInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.get(name)
	if err != nil {
		return nil, err
	}
	n := l.file.Note(noteID)
	if n == nil {
		return nil, fmt.Errorf("note %d: %w", noteID, apperr.ErrNotFound)
	}
	tmpls := l.file.Templates(n)
	out := make([]CardInfo, len(tmpls))
	for i, t := range tmpls {
		out[i] = CardInfo{Index: i, Name: t.Name, Ord: t.Ord}
	}
	return out, nil
}

// RenderCard renders card index of a note. HTML output has its media
// references resolved through the file's linker; text output is plain.
func (s *Service) RenderCard(ctx context.Context, name string, noteID int64, index int, side Side, text bool) (*RenderedCard, error) {
	s.mu.RLock()
	l, err := s.get(name)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	f, scope := l.file, l.scope
	s.mu.RUnlock()

	n := f.Note(noteID)
	if n == nil {
		return nil, fmt.Errorf("note %d: %w", noteID, apperr.ErrNotFound)
	}
	m := f.Model(n)
	if m == nil {
		return nil, fmt.Errorf("model %d of note %d: %w", n.ModelID, noteID, apperr.ErrNotFound)
	}
	tmpls := render.Templates(m, n)
	if index < 0 || index >= len(tmpls) {
		return nil, fmt.Errorf("card %d of note %d: %w", index, noteID, apperr.ErrNotFound)
	}
	tmpl := tmpls[index]

	out := render.Render(m, tmpl, n, render.Options{Flipped: side == SideAnswer, TextOnly: text})
	if !text {
		resolver := media.NewResolver(f, s.linkers.Linker(scope), s.cfg.MediaConcurrency, s.logger)
		if out, err = resolver.Resolve(ctx, out); err != nil {
			return nil, err
		}
	}
	return &RenderedCard{
		File:    name,
		NoteID:  noteID,
		Card:    index,
		Name:    tmpl.Name,
		Side:    side,
		Content: out,
		Text:    text,
		HasMath: render.HasMath(out),
	}, nil
}

// get must be called with s.mu held.
func (s *Service) get(name string) (*loaded, error) {
	l, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("file %q: %w", name, apperr.ErrNotFound)
	}
	return l, nil
}

func (l *loaded) view(d *models.Deck) DeckView {
	return DeckView{
		Deck:   *d,
		Depth:  deck.Depth(d.Name),
		Hidden: l.file.Hidden(d),
		Notes:  l.counts[d.ID],
	}
}

func sourceKind(src archive.Source) string {
	if k, ok := src.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	switch src.(type) {
	case archive.FileSource, *archive.FileSource:
		return "file"
	case archive.URLSource, *archive.URLSource:
		return "url"
	}
	return "upload"
}

func matches(q string, values ...string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
