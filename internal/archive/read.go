package archive

import (
	"context"
	"log/slog"
)

// Contents is everything read eagerly from an archive. Media blobs stay in
// the Archive and are decompressed on demand.
type Contents struct {
	Archive    *Archive
	Collection CollectionRow
	Notes      []NoteRow
	Media      map[string]string
}

// Read opens the container, queries the collection through a single store
// handle and decodes the media index.
func Read(ctx context.Context, data []byte, logger *slog.Logger) (*Contents, error) {
	a, err := OpenBytes(data)
	if err != nil {
		return nil, err
	}
	payload, err := a.Collection()
	if err != nil {
		return nil, err
	}
	media, err := a.MediaIndex()
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(payload)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("archive: close store", slog.String("error", cerr.Error()))
		}
	}()

	col, err := store.Collection(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := store.Notes(ctx)
	if err != nil {
		return nil, err
	}

	logger.Debug("archive: read",
		slog.Int("notes", len(notes)),
		slog.Int("media", len(media)),
		slog.Int("entries", len(a.zr.File)))

	return &Contents{Archive: a, Collection: col, Notes: notes, Media: media}, nil
}
