// Package collection turns raw archive rows into the normalised File model.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/starford/apkgview/internal/apperr"
	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/deck"
	"github.com/starford/apkgview/internal/models"
)

type rawModel struct {
	Name      string             `json:"name"`
	Type      models.ModelType   `json:"type"`
	Fields    []models.Field     `json:"flds"`
	Templates []*models.Template `json:"tmpls"`
	CSS       string             `json:"css"`
}

type rawDeck struct {
	Name      string `json:"name"`
	Collapsed bool   `json:"collapsed"`
}

// Build parses the collection row and note rows into a File. It performs no
// I/O; blobs is used later for on-demand media retrieval.
func Build(name string, col archive.CollectionRow, rows []archive.NoteRow, media map[string]string, blobs Blobs, opts ...deck.Option) (*File, error) {
	modelList, err := parseModels(col.Models)
	if err != nil {
		return nil, err
	}

	notes := make([]*models.Note, len(rows))
	counts := make(map[int64]int)
	for i, r := range rows {
		n := &models.Note{
			ID:        r.ID,
			ModelID:   r.ModelID,
			Modified:  r.Modified,
			Tags:      r.Tags,
			Fields:    r.Fields,
			SortField: r.SortField,
		}
		if r.DeckID.Valid {
			did := r.DeckID.Int64
			n.DeckID = &did
			counts[did]++
		}
		notes[i] = n
	}

	rawDecks, err := parseDecks(col.Decks)
	if err != nil {
		return nil, err
	}
	decks, err := deck.Normalize(rawDecks, func(id int64) int { return counts[id] }, opts...)
	if err != nil {
		return nil, fmt.Errorf("collection: normalize decks: %w", err)
	}

	return newFile(name, modelList, decks, notes, media, blobs), nil
}

// Load reads src and builds its File.
func Load(ctx context.Context, src archive.Source, logger *slog.Logger, opts ...deck.Option) (*File, []byte, error) {
	data, err := src.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	contents, err := archive.Read(ctx, data, logger)
	if err != nil {
		return nil, nil, err
	}
	f, err := Build(src.Name(), contents.Collection, contents.Notes, contents.Media, contents.Archive, opts...)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("collection: loaded",
		slog.String("file", f.Name),
		slog.Int("models", len(f.Models)),
		slog.Int("decks", len(f.Decks)),
		slog.Int("notes", len(f.Notes)))
	return f, data, nil
}

// parseModels decodes the models column and assigns each template its
// position as identifier.
func parseModels(text string) (map[int64]*models.Model, error) {
	var raw map[string]rawModel
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("collection: decode models: %w: %w", apperr.ErrInvalidInput, err)
	}
	out := make(map[int64]*models.Model, len(raw))
	for key, m := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("collection: model key %q: %w: %w", key, apperr.ErrInvalidInput, err)
		}
		for i, t := range m.Templates {
			if t == nil {
				return nil, fmt.Errorf("collection: model %d: template %d is null: %w", id, i, apperr.ErrInvalidInput)
			}
			t.ID = i
		}
		out[id] = &models.Model{
			ID:        id,
			Name:      m.Name,
			Type:      m.Type,
			Fields:    m.Fields,
			Templates: m.Templates,
			CSS:       m.CSS,
		}
	}
	return out, nil
}

func parseDecks(text string) (map[int64]*models.Deck, error) {
	var raw map[string]rawDeck
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("collection: decode decks: %w: %w", apperr.ErrInvalidInput, err)
	}
	out := make(map[int64]*models.Deck, len(raw))
	for key, d := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("collection: deck key %q: %w", key, err)
		}
		out[id] = &models.Deck{ID: id, Name: d.Name, Collapsed: d.Collapsed}
	}
	return out, nil
}

// reverseMedia maps original paths to storage keys. When several keys share
// a path the numerically smallest key wins, matching archive key order.
func reverseMedia(media map[string]string) map[string]string {
	keys := make([]string, 0, len(media))
	for k := range media {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	out := make(map[string]string, len(media))
	for _, k := range keys {
		if _, ok := out[media[k]]; !ok {
			out[media[k]] = k
		}
	}
	return out
}

func keyLess(a, b string) bool {
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}
