// Package media rewrites resource references in rendered HTML into handles
// that resolve against the archive's content-addressed entries.
package media

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	// Groups: opening (tag up to the quote), path, closing (rest of tag).
	refRe = regexp.MustCompile(`(<img[^>]+src="|<link[^>]+href="|<script[^>]+src=")([^"]+)("[^>]*>)`)

	importRe = regexp.MustCompile(`@import\s+(?:url\(["']?([^"')]+)["']?\)(?:\s+[^;]+)?|["']([^"']+)["'](?:\s+[^;]+)?)\s*;`)
)

// Library finds and decompresses media of one loaded archive.
type Library interface {
	Lookup(path string) (key string, ok bool)
	Blob(ctx context.Context, key string) ([]byte, error)
}

// Blob is a media entry found in a Library, loaded on demand.
type Blob struct {
	Key  string
	Path string
	Load func(ctx context.Context) ([]byte, error)
}

// Linker turns a blob into a locally dereferenceable URL.
type Linker interface {
	Link(ctx context.Context, b Blob) (string, error)
}

// Resolver patches media references of rendered cards.
type Resolver struct {
	lib    Library
	linker Linker
	limit  int
	logger *slog.Logger
}

// NewResolver creates a resolver. limit bounds concurrent lookups; values
// below one mean unbounded.
func NewResolver(lib Library, linker Linker, limit int, logger *slog.Logger) *Resolver {
	return &Resolver{lib: lib, linker: linker, limit: limit, logger: logger}
}

// Resolve rewrites src/href references and hoists CSS @import statements
// into trailing stylesheet links. Unknown or unreadable media resolve to an
// empty reference; only context cancellation fails the call.
func (r *Resolver) Resolve(ctx context.Context, html string) (string, error) {
	matches := refRe.FindAllStringSubmatchIndex(html, -1)
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = html[m[4]:m[5]]
	}
	urls, err := r.resolveAll(ctx, paths)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	pos := 0
	for i, m := range matches {
		b.WriteString(html[pos:m[4]])
		b.WriteString(urls[i])
		pos = m[5]
	}
	b.WriteString(html[pos:])
	out := b.String()

	var imports []string
	out = importRe.ReplaceAllStringFunc(out, func(stmt string) string {
		sm := importRe.FindStringSubmatch(stmt)
		if sm[1] != "" {
			imports = append(imports, sm[1])
		} else {
			imports = append(imports, sm[2])
		}
		return ""
	})
	if len(imports) == 0 {
		return out, nil
	}

	links, err := r.resolveAll(ctx, imports)
	if err != nil {
		return "", err
	}
	b.Reset()
	b.WriteString(out)
	for _, href := range links {
		b.WriteString(`<link rel="stylesheet" href="` + href + `">`)
	}
	return b.String(), nil
}

// resolveAll looks paths up concurrently; results keep input order.
func (r *Resolver) resolveAll(ctx context.Context, paths []string) ([]string, error) {
	out := make([]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, p := range paths {
		g.Go(func() error {
			url, err := r.resolve(gctx, p)
			if err != nil {
				return err
			}
			out[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, ok := r.lib.Lookup(path)
	if !ok {
		r.logger.Debug("media: not found", slog.String("path", path))
		return "", nil
	}
	url, err := r.linker.Link(ctx, Blob{
		Key:  key,
		Path: path,
		Load: func(ctx context.Context) ([]byte, error) { return r.lib.Blob(ctx, key) },
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		r.logger.Warn("media: link failed",
			slog.String("path", path),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return "", nil
	}
	return url, nil
}
