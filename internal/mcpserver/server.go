// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the loaded deck archives to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/viewer"
)

// TemplateSyntaxURI names the template grammar resource.
const TemplateSyntaxURI = "apkgview://template-syntax"

// Server wraps the MCP server with deck browsing tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *viewer.Service
	fetcher *archive.Fetcher
}

// New creates a new MCP server with all tools registered. fetcher serves
// load_archive downloads and its MaxBytes also caps data URIs. A nil fetcher
// means a guarded one with default limits.
func New(svc *viewer.Service, version string, fetcher *archive.Fetcher) *Server {
	if fetcher == nil {
		fetcher = archive.NewFetcher(30*time.Second, archive.DefaultMaxBytes)
	}
	s := &Server{svc: svc, fetcher: fetcher}

	s.mcp = server.NewMCPServer(
		"apkgview",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List the loaded deck archives with their deck and note counts."),
	), s.listFiles)

	s.mcp.AddTool(mcp.NewTool("list_decks",
		mcp.WithDescription("List the decks of a loaded archive in display order. "+
			"Deck names use :: between hierarchy levels; hidden decks sit under a collapsed ancestor."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Archive name as returned by list_files")),
	), s.listDecks)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the notes of a deck with their question and answer as plain text."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Archive name")),
		mcp.WithString("deck_id", mcp.Required(), mcp.Description("Deck id from list_decks")),
		mcp.WithString("query", mcp.Description("Optional case-insensitive substring filter")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("render_card",
		mcp.WithDescription("Render one card of a note as plain text. "+
			"Cloze notes render one card per cloze number; list_notes reports how many."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Archive name")),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note id from list_notes")),
		mcp.WithString("card", mcp.Description("Zero-based card index (default 0)")),
		mcp.WithString("side", mcp.Description("question (default) or answer")),
	), s.renderCard)

	s.mcp.AddTool(mcp.NewTool("load_archive",
		mcp.WithDescription("Load a deck archive from an http(s) URL or a base64 data: URI."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/zip;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Optional archive name (must end in .apkg or .colpkg)")),
	), s.loadArchive)

	s.mcp.AddTool(mcp.NewTool("get_template_syntax",
		mcp.WithDescription("Returns the card template grammar used by render_card."),
	), s.getTemplateSyntax)

	// Resource: template grammar.
	s.mcp.AddResource(
		mcp.NewResource(TemplateSyntaxURI, "Card Template Syntax",
			mcp.WithResourceDescription("Placeholder, section and cloze grammar of card templates."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTemplateSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

// requireInt64 reads an integer argument sent either as a JSON number or a
// decimal string. Note and deck ids exceed what some clients keep exact in
// floating point, so strings are preferred.
func requireInt64(req mcp.CallToolRequest, key string) (int64, error) {
	v, ok := req.GetArguments()[key]
	if !ok {
		return 0, fmt.Errorf("required argument %q not found", key)
	}
	switch n := v.(type) {
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q must be an integer", key)
		}
		return id, nil
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, fmt.Errorf("argument %q must be an integer", key)
}

func (s *Server) listFiles(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files := s.svc.Files(ctx)
	if len(files) == 0 {
		return mcp.NewToolResultText("no archives loaded"), nil
	}
	return jsonResult(files), nil
}

func (s *Server) listDecks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	decks, err := s.svc.Decks(ctx, file)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(decks), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deckID, err := requireInt64(req, "deck_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query := ""
	if q, qErr := req.RequireString("query"); qErr == nil {
		query = q
	}
	notes, err := s.svc.Notes(ctx, file, deckID, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(notes), nil
}

func (s *Server) renderCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID, err := requireInt64(req, "note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	card := 0
	if _, ok := req.GetArguments()["card"]; ok {
		n, cErr := requireInt64(req, "card")
		if cErr != nil {
			return mcp.NewToolResultError(cErr.Error()), nil
		}
		card = int(n)
	}
	sideArg := ""
	if v, sErr := req.RequireString("side"); sErr == nil {
		sideArg = v
	}
	side, err := viewer.ParseSide(sideArg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.svc.RenderCard(ctx, file, noteID, card, side, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out.Content), nil
}

func (s *Server) getTemplateSyntax(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TemplateSyntax), nil
}

func (s *Server) readTemplateSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TemplateSyntaxURI,
			MIMEType: "text/markdown",
			Text:     TemplateSyntax,
		},
	}, nil
}
