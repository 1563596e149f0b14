package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type blobKey struct {
	scope string
	key   string
}

type blobEntry struct {
	scope string
	path  string
	data  []byte
}

// errRevoked is returned to callers whose load finished after its scope was
// revoked. The blob is dropped instead of being cached.
var errRevoked = errors.New("media: scope revoked during load")

// Registry hands out opaque URLs for decompressed media and serves them.
// Each blob is loaded at most once per scope; URLs stay valid until the
// scope is revoked.
type Registry struct {
	prefix  string
	mu      sync.RWMutex
	handles map[blobKey]string
	entries map[string]*blobEntry
	gens    map[string]uint64
	group   singleflight.Group
}

// NewRegistry creates a registry whose URLs start with prefix, e.g. "/blobs/".
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix:  prefix,
		handles: make(map[blobKey]string),
		entries: make(map[string]*blobEntry),
		gens:    make(map[string]uint64),
	}
}

// Linker returns a Linker that registers blobs under scope. Callers pick a
// scope per loaded file and revoke it when the file goes away.
func (r *Registry) Linker(scope string) Linker {
	return scopedLinker{r: r, scope: scope}
}

type scopedLinker struct {
	r     *Registry
	scope string
}

func (l scopedLinker) Link(ctx context.Context, b Blob) (string, error) {
	return l.r.link(ctx, l.scope, b)
}

func (r *Registry) link(ctx context.Context, scope string, b Blob) (string, error) {
	k := blobKey{scope: scope, key: b.Key}
	r.mu.RLock()
	h, ok := r.handles[k]
	gen := r.gens[scope]
	r.mu.RUnlock()
	if ok {
		return r.prefix + h, nil
	}

	// The shared load must outlive any single caller, so it runs detached
	// and each caller waits on its own context.
	loadCtx := context.WithoutCancel(ctx)
	flight := fmt.Sprintf("%s\x00%d\x00%s", scope, gen, b.Key)
	ch := r.group.DoChan(flight, func() (any, error) {
		r.mu.RLock()
		h, ok := r.handles[k]
		r.mu.RUnlock()
		if ok {
			return h, nil
		}
		data, err := b.Load(loadCtx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gens[scope] != gen {
			return nil, errRevoked
		}
		if h, ok := r.handles[k]; ok {
			return h, nil
		}
		h = uuid.NewString()
		r.handles[k] = h
		r.entries[h] = &blobEntry{scope: scope, path: b.Path, data: data}
		return h, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return r.prefix + res.Val.(string), nil
	}
}

// Revoke forgets every blob of scope. URLs handed out for it stop resolving
// and loads still in flight for it are not cached.
func (r *Registry) Revoke(scope string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[scope]++
	n := 0
	for k, h := range r.handles {
		if k.scope != scope {
			continue
		}
		delete(r.handles, k)
		delete(r.entries, h)
		n++
	}
	return n
}

// Len returns the number of live blobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ServeHTTP handles GET {prefix}{handle}. Mount it under a chi route with a
// {handle} parameter.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := chi.URLParam(req, "handle")
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", contentType(e.path, e.data))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	http.ServeContent(w, req, "", time.Time{}, bytes.NewReader(e.data))
}

// contentType guesses from the original file extension, then from content.
func contentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
