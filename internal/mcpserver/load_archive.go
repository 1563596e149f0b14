package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/apkgview/internal/archive"
)

var (
	archiveExtensions = map[string]bool{".apkg": true, ".colpkg": true}

	safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9 ._-]`)
)

func (s *Server) loadArchive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filename := ""
	if v, fErr := req.RequireString("filename"); fErr == nil {
		filename = v
	}

	var src archive.Source
	if strings.HasPrefix(rawURL, "data:") {
		data, dErr := decodeDataURI(rawURL)
		if dErr != nil {
			return mcp.NewToolResultError(dErr.Error()), nil
		}
		if limit := s.maxBytes(); int64(len(data)) > limit {
			return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(data), limit)), nil
		}
		if filename == "" {
			filename = uuid.NewString() + ".apkg"
		}
		src = archive.BytesSource{Label: sanitizeFilename(filename), Data: data}
	} else {
		us, pErr := s.fetcher.Source(rawURL)
		if pErr != nil {
			return mcp.NewToolResultError(pErr.Error()), nil
		}
		if filename != "" {
			src = namedSource{Source: us, name: sanitizeFilename(filename)}
		} else {
			src = us
		}
	}

	if ext := strings.ToLower(filepath.Ext(src.Name())); !archiveExtensions[ext] {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported file extension: %q (allowed: .apkg, .colpkg)", ext)), nil
	}

	info, err := s.svc.Load(ctx, src)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info), nil
}

func (s *Server) maxBytes() int64 {
	if s.fetcher.MaxBytes > 0 {
		return s.fetcher.MaxBytes
	}
	return archive.DefaultMaxBytes
}

// namedSource overrides the name of a wrapped source.
type namedSource struct {
	archive.Source
	name string
}

func (n namedSource) Name() string { return n.name }

func (n namedSource) Kind() string { return "url" }

// decodeDataURI parses a data:[<mediatype>];base64,<data> URI. The payload
// must be a zip container.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	if ct := http.DetectContentType(data); ct != "application/zip" {
		return nil, fmt.Errorf("content is not a zip archive (detected: %s)", ct)
	}
	return data, nil
}

// sanitizeFilename strips path separators and unsafe characters.
func sanitizeFilename(name string) string {
	name = path.Base(filepath.ToSlash(name))
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "/" {
		name = uuid.NewString() + ".apkg"
	}
	return name
}
