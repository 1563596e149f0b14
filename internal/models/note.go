// Package models defines the domain types of a loaded deck archive.
package models

import "strings"

// FieldSeparator splits a note's field blob into positional values.
const FieldSeparator = "\x1f"

// ModelType distinguishes standard note types from cloze note types.
type ModelType int

const (
	ModelStandard ModelType = 0
	ModelCloze    ModelType = 1
)

// Field is one named slot of a note type.
type Field struct {
	Name string `json:"name"`
	Ord  int    `json:"ord"`
}

// Template is one question/answer pair of a note type.
// ID is the template's position in its model and is stable only within one
// loaded archive.
type Template struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Ord  int    `json:"ord"`
	QFmt string `json:"qfmt"`
	AFmt string `json:"afmt"`
}

// Model is a note type: field names, templates and styling.
type Model struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Type      ModelType   `json:"type"`
	Fields    []Field     `json:"flds"`
	Templates []*Template `json:"tmpls"`
	CSS       string      `json:"css"`
}

// IsCloze reports whether the model is a cloze note type.
func (m *Model) IsCloze() bool {
	return m.Type == ModelCloze
}

// FieldNames returns field names in positional order.
func (m *Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldIndex returns the position of the named field, or -1.
func (m *Model) FieldIndex(name string) int {
	for i, f := range m.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Note is one piece of content. DeckID is nil when the note has no card.
type Note struct {
	ID        int64  `json:"id"`
	ModelID   int64  `json:"mid"`
	Modified  int64  `json:"mod"`
	Tags      string `json:"tags"`
	Fields    string `json:"flds"`
	SortField string `json:"sfld"`
	DeckID    *int64 `json:"did,omitempty"`
}

// Values splits the field blob into positional values.
func (n *Note) Values() []string {
	return strings.Split(n.Fields, FieldSeparator)
}

// TagList returns the space-separated tags as a slice.
func (n *Note) TagList() []string {
	return strings.Fields(n.Tags)
}

// InDeck reports whether the note's primary card lives in the given deck.
func (n *Note) InDeck(id int64) bool {
	return n.DeckID != nil && *n.DeckID == id
}
