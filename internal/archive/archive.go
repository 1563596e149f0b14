// Package archive reads deck archives: a zip container holding a SQLite
// collection and a JSON media index. Media entries are decompressed lazily.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/starford/apkgview/internal/apperr"
)

// Entry names inside the container.
const (
	CollectionEntry       = "collection.anki21"
	LegacyCollectionEntry = "collection.anki2"
	MediaEntry            = "media"
)

// Archive is an opened container. It is safe for concurrent entry reads.
type Archive struct {
	zr    *zip.Reader
	files map[string]*zip.File
}

// OpenBytes opens a container from raw bytes.
func OpenBytes(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: open zip: %w: %w", apperr.ErrInvalidInput, err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	return &Archive{zr: zr, files: files}, nil
}

// Entries lists entry names in container order.
func (a *Archive) Entries() []string {
	names := make([]string, len(a.zr.File))
	for i, f := range a.zr.File {
		names[i] = f.Name
	}
	return names
}

// Has reports whether the named entry exists.
func (a *Archive) Has(name string) bool {
	_, ok := a.files[name]
	return ok
}

// Entry decompresses the named entry. A missing entry wraps fs.ErrNotExist.
func (a *Archive) Entry(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("archive: entry %q: %w", name, fs.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: open entry %q: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: read entry %q: %w", name, err)
	}
	return data, nil
}

// Collection returns the SQLite payload, preferring the current entry name
// and falling back to the legacy one.
func (a *Archive) Collection() ([]byte, error) {
	for _, name := range []string{CollectionEntry, LegacyCollectionEntry} {
		if a.Has(name) {
			return a.Entry(name)
		}
	}
	return nil, &apperr.ArchiveFormatError{Entry: CollectionEntry}
}

// MediaIndex decodes the storage key → original path mapping.
func (a *Archive) MediaIndex() (map[string]string, error) {
	data, err := a.Entry(MediaEntry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &apperr.ArchiveFormatError{Entry: MediaEntry}
		}
		return nil, err
	}
	index := map[string]string{}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("archive: decode media index: %w: %w", apperr.ErrInvalidInput, err)
	}
	return index, nil
}
