// Package watch keeps the viewer's library in step with the archives in
// the library directory.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/starford/apkgview/internal/apperr"
	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/storage"
	"github.com/starford/apkgview/internal/viewer"
)

// Library is the set of loaded files the watcher drives.
type Library interface {
	Load(ctx context.Context, src archive.Source) (*viewer.FileInfo, error)
	Remove(ctx context.Context, name string) error
	Checksum(name string) (string, bool)
}

// Source reads one archive out of the library directory.
type Source struct {
	Store storage.Provider
	File  string
}

func (s Source) Name() string { return s.File }

func (s Source) Kind() string { return "library" }

func (s Source) Open(_ context.Context) ([]byte, error) {
	return s.Store.Read(s.File)
}

// Syncer reconciles a Library with a storage.Provider. It only unloads
// files it loaded itself, so archives opened from URLs or uploads that
// were never persisted survive.
type Syncer struct {
	lib    Library
	store  storage.Provider
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

// NewSyncer creates a syncer.
func NewSyncer(lib Library, store storage.Provider, logger *slog.Logger) *Syncer {
	return &Syncer{lib: lib, store: store, logger: logger, known: make(map[string]struct{})}
}

// Sync walks the library and brings the loaded files up to date:
//   - new/changed archives are loaded
//   - archives removed from disk are unloaded
//
// An archive that fails to load is logged and skipped; any earlier version
// stays loaded.
func (s *Syncer) Sync(ctx context.Context) error {
	entries, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	disk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		disk[e.Name] = struct{}{}
		if cs, ok := s.lib.Checksum(e.Name); ok && cs == e.Checksum {
			s.known[e.Name] = struct{}{}
			continue
		}
		if _, err := s.lib.Load(ctx, Source{Store: s.store, File: e.Name}); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Warn("sync: load failed", slog.String("file", e.Name), slog.String("error", err.Error()))
			continue
		}
		s.known[e.Name] = struct{}{}
		s.logger.Debug("sync: loaded", slog.String("file", e.Name))
	}

	// Unload stale entries.
	for name := range s.known {
		if _, ok := disk[name]; ok {
			continue
		}
		delete(s.known, name)
		if err := s.lib.Remove(ctx, name); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("sync: remove failed", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		s.logger.Debug("sync: removed stale", slog.String("file", name))
	}
	return nil
}
