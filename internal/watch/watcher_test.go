package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/storage"
	"github.com/starford/apkgview/internal/testutil"
	"github.com/starford/apkgview/internal/viewer"
)

// watcherTestEnv sets up a library dir, storage, and viewer for watcher tests.
func watcherTestEnv(t *testing.T) (*storage.FS, *viewer.Service, *slog.Logger) {
	t.Helper()
	store, err := storage.NewFS(t.TempDir(), nil)
	require.NoError(t, err)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return store, viewer.NewService(viewer.Config{}, nil, logger), logger
}

func loaded(svc *viewer.Service, name string) bool {
	_, ok := svc.Checksum(name)
	return ok
}

func TestSync_LoadsAndRemoves(t *testing.T) {
	store, svc, logger := watcherTestEnv(t)
	data := testutil.Build(t, testutil.Default())
	require.NoError(t, store.Write("a.apkg", data))
	require.NoError(t, store.Write("broken.apkg", []byte("not a zip")))

	s := NewSyncer(svc, store, logger)
	require.NoError(t, s.Sync(context.Background()))
	require.True(t, loaded(svc, "a.apkg"))
	assert.False(t, loaded(svc, "broken.apkg"), "broken archive should be skipped")

	files := svc.Files(context.Background())
	require.Len(t, files, 1)
	assert.Equal(t, "library", files[0].Source)
	first := files[0].LoadedAt

	// Unchanged archives are not reloaded.
	require.NoError(t, s.Sync(context.Background()))
	assert.True(t, svc.Files(context.Background())[0].LoadedAt.Equal(first), "unchanged archive was reloaded")

	require.NoError(t, store.Delete("a.apkg"))
	require.NoError(t, s.Sync(context.Background()))
	assert.False(t, loaded(svc, "a.apkg"), "deleted archive still loaded")
}

func TestSync_KeepsForeignFiles(t *testing.T) {
	store, svc, logger := watcherTestEnv(t)
	path := testutil.WriteArchive(t, t.TempDir(), "remote.apkg", testutil.Default())
	_, err := svc.Load(context.Background(), archive.FileSource{Path: path})
	require.NoError(t, err)

	require.NoError(t, NewSyncer(svc, store, logger).Sync(context.Background()))
	assert.True(t, loaded(svc, "remote.apkg"), "file not loaded from the library was unloaded")
}

func TestWatcher_NewArchiveLoaded(t *testing.T) {
	store, svc, logger := watcherTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, NewSyncer(svc, store, logger), store.Root(), store.Accepts, 50*time.Millisecond, logger)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "new.apkg"), testutil.Build(t, testutil.Default()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "notes.txt"), []byte("ignored"), 0o644))

	assert.Eventually(t, func() bool {
		return loaded(svc, "new.apkg")
	}, 5*time.Second, 50*time.Millisecond, "new archive not loaded by watcher")
}

func TestWatcher_RemoveAndRename(t *testing.T) {
	store, svc, logger := watcherTestEnv(t)
	require.NoError(t, store.Write("old.apkg", testutil.Build(t, testutil.Default())))
	s := NewSyncer(svc, store, logger)
	require.NoError(t, s.Sync(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, s, store.Root(), store.Accepts, 50*time.Millisecond, logger)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.Rename(filepath.Join(store.Root(), "old.apkg"), filepath.Join(store.Root(), "renamed.apkg")))

	assert.Eventually(t, func() bool {
		return !loaded(svc, "old.apkg") && loaded(svc, "renamed.apkg")
	}, 5*time.Second, 50*time.Millisecond, "rename not reconciled: old name should be unloaded and new name loaded")
}
