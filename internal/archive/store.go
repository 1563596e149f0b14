package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

const (
	collectionQuery = `SELECT models, decks FROM col`

	// Each note keeps only the deck of its lowest-rowid card; notes without
	// cards come back with a NULL deck.
	notesQuery = `
		SELECT notes.id, notes.mid, notes.mod, notes.tags, notes.flds, notes.sfld, cards.did
		FROM notes
		LEFT JOIN cards ON notes.id = cards.nid
			AND cards.id = (SELECT id FROM cards WHERE notes.id = cards.nid ORDER BY id LIMIT 1)
	`
)

// CollectionRow is the single row of the col table that matters here.
type CollectionRow struct {
	Models string
	Decks  string
}

// NoteRow is one note joined with its primary card.
type NoteRow struct {
	ID        int64
	ModelID   int64
	Modified  int64
	Tags      string
	Fields    string
	SortField string
	DeckID    sql.NullInt64
}

// Store is a read-only handle on a collection payload. One handle serves all
// queries of a single load and must not be shared between loads.
type Store struct {
	conn *sql.DB
	path string
}

// OpenStore materialises the payload to a temporary file and opens it.
func OpenStore(payload []byte) (*Store, error) {
	tmp, err := os.CreateTemp("", "apkgview-*.sqlite")
	if err != nil {
		return nil, fmt.Errorf("archive: create temp db: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("archive: write temp db: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("archive: close temp db: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Close releases the handle and removes the temporary file.
func (s *Store) Close() error {
	err := s.conn.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

// Collection returns the models and decks JSON columns.
func (s *Store) Collection(ctx context.Context) (CollectionRow, error) {
	var row CollectionRow
	if err := s.conn.QueryRowContext(ctx, collectionQuery).Scan(&row.Models, &row.Decks); err != nil {
		return CollectionRow{}, fmt.Errorf("archive: query col: %w", err)
	}
	return row, nil
}

// Notes returns every note with the deck of its primary card.
func (s *Store) Notes(ctx context.Context) ([]NoteRow, error) {
	rows, err := s.conn.QueryContext(ctx, notesQuery)
	if err != nil {
		return nil, fmt.Errorf("archive: query notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		var (
			r    NoteRow
			sfld sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ModelID, &r.Modified, &r.Tags, &r.Fields, &sfld, &r.DeckID); err != nil {
			return nil, fmt.Errorf("archive: scan note: %w", err)
		}
		r.SortField = sfld.String
		out = append(out, r)
	}
	return out, rows.Err()
}
