package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/apkgview/internal/archive"
	"github.com/starford/apkgview/internal/testutil"
	"github.com/starford/apkgview/internal/viewer"
)

func testServerWith(t *testing.T, fetcher *archive.Fetcher) *Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := viewer.NewService(viewer.Config{}, nil, logger)

	path := testutil.WriteArchive(t, t.TempDir(), "geo.apkg", testutil.Default())
	_, err := svc.Load(context.Background(), archive.FileSource{Path: path})
	require.NoError(t, err)
	return New(svc, "test", fetcher)
}

func testServer(t *testing.T) *Server {
	t.Helper()
	return testServerWith(t, archive.NewFetcher(5*time.Second, archive.DefaultMaxBytes))
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so dispatch to the
	// handler functions by name.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_files":
		result, err = srv.listFiles(ctx, req)
	case "list_decks":
		result, err = srv.listDecks(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "render_card":
		result, err = srv.renderCard(ctx, req)
	case "load_archive":
		result, err = srv.loadArchive(ctx, req)
	case "get_template_syntax":
		result, err = srv.getTemplateSyntax(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	require.NoError(t, err, "tool %s", name)
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// decodeResult fails the test on a tool error, then decodes its JSON text.
func decodeResult[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, r.IsError, "unexpected error: %s", resultText(r))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &v), resultText(r))
	return v
}

func TestListFiles(t *testing.T) {
	srv := testServer(t)

	files := decodeResult[[]viewer.FileInfo](t, callTool(t, srv, "list_files", map[string]interface{}{}))
	require.Len(t, files, 1)
	assert.Equal(t, "geo.apkg", files[0].Name)
	assert.Equal(t, 3, files[0].Notes)
}

func TestListFilesEmpty(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(viewer.NewService(viewer.Config{}, nil, logger), "test", &archive.Fetcher{})

	r := callTool(t, srv, "list_files", map[string]interface{}{})
	assert.Equal(t, "no archives loaded", resultText(r))
}

func TestListDecks(t *testing.T) {
	srv := testServer(t)

	decks := decodeResult[[]viewer.DeckView](t, callTool(t, srv, "list_decks", map[string]interface{}{"file": "geo.apkg"}))
	var names []string
	for _, d := range decks {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"Geo", "Geo::Europe", "Geo::Europe::France", "Lang"}, names)
}

func TestListDecksMissingFile(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "list_decks", map[string]interface{}{"file": "nope.apkg"})
	assert.True(t, r.IsError, "expected error for missing file")
	r = callTool(t, srv, "list_decks", map[string]interface{}{})
	assert.True(t, r.IsError, "expected error for missing argument")
}

func TestListNotes(t *testing.T) {
	srv := testServer(t)

	// Deck ids may arrive as strings or JSON numbers.
	for _, id := range []interface{}{"20", float64(20)} {
		r := callTool(t, srv, "list_notes", map[string]interface{}{"file": "geo.apkg", "deck_id": id})
		notes := decodeResult[[]viewer.NoteRow](t, r)
		require.Len(t, notes, 1, "deck_id %v", id)
		assert.Equal(t, int64(2), notes[0].ID)
		assert.Equal(t, 2, notes[0].Cards)
	}
}

func TestListNotesQuery(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "list_notes", map[string]interface{}{
		"file": "geo.apkg", "deck_id": "20", "query": "tokyo",
	})
	assert.Equal(t, "[]", resultText(r))
}

func TestListNotesBadDeckID(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "list_notes", map[string]interface{}{"file": "geo.apkg", "deck_id": "twenty"})
	assert.True(t, r.IsError, "expected error for non-numeric deck id")
	r = callTool(t, srv, "list_notes", map[string]interface{}{"file": "geo.apkg", "deck_id": "999"})
	assert.True(t, r.IsError, "expected error for unknown deck")
}

func TestRenderCard(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"default question", map[string]interface{}{"note_id": "1"}, "Capital of France"},
		{"answer", map[string]interface{}{"note_id": "1", "side": "answer"}, "Capital of FranceParis paris.jpg"},
		{"first cloze", map[string]interface{}{"note_id": "2", "card": "0"}, "[...] and Paris"},
		{"second cloze", map[string]interface{}{"note_id": float64(2), "card": float64(1)}, "London and [...]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.args["file"] = "geo.apkg"
			r := callTool(t, srv, "render_card", tt.args)
			require.False(t, r.IsError, "unexpected error: %s", resultText(r))
			assert.Equal(t, tt.want, resultText(r))
		})
	}
}

func TestRenderCardErrors(t *testing.T) {
	srv := testServer(t)

	cases := []map[string]interface{}{
		{"file": "geo.apkg", "note_id": "1", "side": "back"},
		{"file": "geo.apkg", "note_id": "2", "card": "7"},
		{"file": "geo.apkg", "note_id": "42"},
		{"file": "geo.apkg"},
	}
	for _, args := range cases {
		r := callTool(t, srv, "render_card", args)
		assert.True(t, r.IsError, "args %v: got %q", args, resultText(r))
	}
}

func TestLoadArchiveDataURI(t *testing.T) {
	srv := testServer(t)

	fx := testutil.Default()
	fx.Decks["30"] = map[string]any{"id": 30, "name": "Extra", "collapsed": false}
	uri := "data:application/zip;base64," + base64.StdEncoding.EncodeToString(testutil.Build(t, fx))

	r := callTool(t, srv, "load_archive", map[string]interface{}{"url": uri, "filename": "../extra.apkg"})
	info := decodeResult[viewer.FileInfo](t, r)
	assert.Equal(t, "extra.apkg", info.Name)
	assert.Equal(t, "upload", info.Source)
	assert.Len(t, srv.svc.Files(context.Background()), 2)
}

func TestLoadArchiveRejects(t *testing.T) {
	srv := testServer(t)

	notZip := "data:application/zip;base64," + base64.StdEncoding.EncodeToString([]byte("plain text"))
	zipped := "data:application/zip;base64," + base64.StdEncoding.EncodeToString(testutil.Build(t, testutil.Default()))

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"loopback", map[string]interface{}{"url": "http://127.0.0.1/deck.apkg"}, "blocked host"},
		{"metadata", map[string]interface{}{"url": "http://169.254.169.254/deck.apkg"}, "cloud metadata"},
		{"scheme", map[string]interface{}{"url": "ftp://example.com/deck.apkg"}, "unsupported scheme"},
		{"not zip", map[string]interface{}{"url": notZip}, "not a zip"},
		{"not base64", map[string]interface{}{"url": "data:application/zip,abc"}, "only base64"},
		{"extension", map[string]interface{}{"url": zipped, "filename": "deck.zip"}, "unsupported file extension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callTool(t, srv, "load_archive", tt.args)
			require.True(t, r.IsError, "got %q", resultText(r))
			assert.Contains(t, resultText(r), tt.want)
		})
	}
}

func TestLoadArchiveSizeLimit(t *testing.T) {
	data := testutil.Build(t, testutil.Default())
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	}))
	defer remote.Close()

	srv := testServerWith(t, &archive.Fetcher{MaxBytes: 64})

	uri := "data:application/zip;base64," + base64.StdEncoding.EncodeToString(data)
	r := callTool(t, srv, "load_archive", map[string]interface{}{"url": uri, "filename": "big.apkg"})
	require.True(t, r.IsError)
	assert.Contains(t, resultText(r), "file too large")

	r = callTool(t, srv, "load_archive", map[string]interface{}{"url": remote.URL + "/big.apkg"})
	require.True(t, r.IsError)
	assert.Contains(t, resultText(r), "too large")
	assert.Len(t, srv.svc.Files(context.Background()), 1)
}

func TestLoadArchiveURLGuardedAtDial(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("unreachable"))
	}))
	defer remote.Close()

	_, port, err := net.SplitHostPort(remote.Listener.Addr().String())
	require.NoError(t, err)

	srv := testServer(t)
	r := callTool(t, srv, "load_archive", map[string]interface{}{"url": "http://localhost:" + port + "/deck.apkg"})
	require.True(t, r.IsError)
	assert.Contains(t, resultText(r), "blocked host")
}

func TestTemplateSyntax(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "get_template_syntax", map[string]interface{}{})
	text := resultText(r)
	for _, want := range []string{"{{FrontSide}}", "{{cloze:Field}}", "ERROR: Field 'X' not found"} {
		assert.Contains(t, text, want)
	}

	contents, err := srv.readTemplateSyntaxResource(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok, "resource = %+v", contents[0])
	assert.Equal(t, TemplateSyntaxURI, tc.URI)
	assert.Equal(t, TemplateSyntax, tc.Text)
}
