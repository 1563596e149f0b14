// Package testutil builds real deck archives for tests: a SQLite collection
// written through go-sqlite3, zipped with a media index and media entries.
package testutil

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE col (id INTEGER PRIMARY KEY, models TEXT NOT NULL, decks TEXT NOT NULL);
CREATE TABLE notes (id INTEGER PRIMARY KEY, mid INTEGER NOT NULL, mod INTEGER NOT NULL,
	tags TEXT NOT NULL, flds TEXT NOT NULL, sfld TEXT);
CREATE TABLE cards (id INTEGER PRIMARY KEY, nid INTEGER NOT NULL, did INTEGER NOT NULL, ord INTEGER NOT NULL);
`

// Model IDs used by Default.
const (
	BasicModelID = 1001
	ClozeModelID = 1002
)

// Note is a fixture note row.
type Note struct {
	ID      int64
	ModelID int64
	Tags    string
	Fields  []string
}

// Card is a fixture card row.
type Card struct {
	ID     int64
	NoteID int64
	DeckID int64
	Ord    int
}

// Fixture describes an archive to build.
type Fixture struct {
	Models map[string]any
	Decks  map[string]any
	Notes  []Note
	Cards  []Card
	Media  map[string]string
	Blobs  map[string][]byte

	Legacy         bool // store the collection under collection.anki2
	OmitCollection bool
	OmitMedia      bool
}

// Default returns a fixture with one standard and one cloze note type,
// a nested deck whose ancestors are missing, an empty Default deck, a note
// without cards and one media file.
func Default() Fixture {
	return Fixture{
		Models: map[string]any{
			"1001": map[string]any{
				"id":   BasicModelID,
				"name": "Basic",
				"type": 0,
				"flds": []any{
					map[string]any{"name": "Front", "ord": 0},
					map[string]any{"name": "Back", "ord": 1},
				},
				"tmpls": []any{
					map[string]any{
						"name": "Card 1",
						"ord":  0,
						"qfmt": "{{Front}}",
						"afmt": "{{FrontSide}}<hr id=answer>{{Back}}",
					},
				},
				"css": ".card { color: black; }",
			},
			"1002": map[string]any{
				"id":   ClozeModelID,
				"name": "Cloze",
				"type": 1,
				"flds": []any{
					map[string]any{"name": "Text", "ord": 0},
					map[string]any{"name": "Extra", "ord": 1},
				},
				"tmpls": []any{
					map[string]any{
						"name": "Cloze",
						"ord":  0,
						"qfmt": "{{cloze:Text}}",
						"afmt": "{{cloze:Text}}<br>{{Extra}}",
					},
				},
				"css": ".cloze { font-weight: bold; }",
			},
		},
		Decks: map[string]any{
			"1":  map[string]any{"id": 1, "name": "Default", "collapsed": false},
			"10": map[string]any{"id": 10, "name": "Geo::Europe::France", "collapsed": false},
			"20": map[string]any{"id": 20, "name": "Lang", "collapsed": false},
		},
		Notes: []Note{
			{ID: 1, ModelID: BasicModelID, Tags: " geo capitals ", Fields: []string{"Capital of France", `Paris <img src="paris.jpg">`}},
			{ID: 2, ModelID: ClozeModelID, Tags: "", Fields: []string{"{{c1::London}} and {{c2::Paris}}", "Europe"}},
			{ID: 3, ModelID: BasicModelID, Tags: "orphan", Fields: []string{"No card", "none"}},
		},
		Cards: []Card{
			{ID: 100, NoteID: 1, DeckID: 10, Ord: 0},
			{ID: 200, NoteID: 2, DeckID: 20, Ord: 0},
			{ID: 201, NoteID: 2, DeckID: 10, Ord: 1},
		},
		Media: map[string]string{"0": "paris.jpg"},
		Blobs: map[string][]byte{"0": []byte("\xff\xd8\xff\xe0jpeg-bytes")},
	}
}

// Build returns the zipped archive bytes for fx.
func Build(t *testing.T, fx Fixture) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if !fx.OmitCollection {
		name := "collection.anki21"
		if fx.Legacy {
			name = "collection.anki2"
		}
		writeEntry(t, zw, name, collection(t, fx))
	}
	if !fx.OmitMedia {
		media := fx.Media
		if media == nil {
			media = map[string]string{}
		}
		data, err := json.Marshal(media)
		if err != nil {
			t.Fatal(err)
		}
		writeEntry(t, zw, "media", data)
	}

	keys := make([]string, 0, len(fx.Blobs))
	for k := range fx.Blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeEntry(t, zw, k, fx.Blobs[k])
	}

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// WriteArchive builds fx and writes it under dir, returning the file path.
func WriteArchive(t *testing.T, dir, name string, fx Fixture) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, Build(t, fx), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeEntry(t *testing.T, zw *zip.Writer, name string, data []byte) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
}

func collection(t *testing.T, fx Fixture) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collection.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatal(err)
	}
	models, err := json.Marshal(fx.Models)
	if err != nil {
		t.Fatal(err)
	}
	decks, err := json.Marshal(fx.Decks)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO col (id, models, decks) VALUES (1, ?, ?)`, string(models), string(decks)); err != nil {
		t.Fatal(err)
	}
	for _, n := range fx.Notes {
		sfld := ""
		if len(n.Fields) > 0 {
			sfld = n.Fields[0]
		}
		if _, err := db.Exec(`INSERT INTO notes (id, mid, mod, tags, flds, sfld) VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.ModelID, 1700000000, n.Tags, strings.Join(n.Fields, "\x1f"), sfld); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range fx.Cards {
		if _, err := db.Exec(`INSERT INTO cards (id, nid, did, ord) VALUES (?, ?, ?, ?)`,
			c.ID, c.NoteID, c.DeckID, c.Ord); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
