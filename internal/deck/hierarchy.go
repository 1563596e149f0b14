// Package deck normalises flat deck records into a consistent hierarchy:
// missing ancestors are synthesised, parent links and child flags derived,
// and the result ordered by locale-aware name comparison.
package deck

import (
	"math/rand/v2"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/starford/apkgview/internal/apperr"
	"github.com/starford/apkgview/internal/models"
)

// Separator delimits hierarchy levels in deck names.
const Separator = "::"

// The format reserves this deck; when it holds no notes it is an artifact.
const (
	DefaultID   int64 = 1
	DefaultName       = "Default"
)

// NoParent is the ParentID of top-level decks.
const NoParent int64 = 0

type options struct {
	lang   language.Tag
	strict bool
	newID  func() int64
}

// Option configures Normalize.
type Option func(*options)

// WithLanguage sets the collation used for ordering.
func WithLanguage(tag language.Tag) Option {
	return func(o *options) { o.lang = tag }
}

// WithStrict makes duplicate deck names an error instead of resolving to
// the lowest id.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithIDSource replaces the random id generator for synthesised decks.
func WithIDSource(fn func() int64) Option {
	return func(o *options) { o.newID = fn }
}

// Normalize applies the full pipeline to decks keyed by id. noteCount
// reports how many notes belong to a deck id. Deck values are updated in
// place; the map itself is left untouched.
func Normalize(raw map[int64]*models.Deck, noteCount func(id int64) int, opts ...Option) ([]*models.Deck, error) {
	o := options{lang: language.English, newID: randomID}
	for _, opt := range opts {
		opt(&o)
	}

	decks := make([]*models.Deck, 0, len(raw))
	for id, d := range raw {
		if id == DefaultID && d.Name == DefaultName && noteCount(id) == 0 {
			continue
		}
		d.ID = id
		decks = append(decks, d)
	}
	sortByID(decks)

	decks = append(decks, Synthesize(decks, o.newID)...)

	index, err := nameIndex(decks, o.strict)
	if err != nil {
		return nil, err
	}
	link(decks, index)
	Sort(decks, o.lang)
	return decks, nil
}

// Synthesize returns the ancestor decks implied by the names in decks but
// absent from it. New decks are collapsed. Running it on its own output
// combined with the input yields nothing.
func Synthesize(decks []*models.Deck, newID func() int64) []*models.Deck {
	names := make(map[string]struct{}, len(decks))
	used := make(map[int64]struct{}, len(decks))
	for _, d := range decks {
		names[d.Name] = struct{}{}
		used[d.ID] = struct{}{}
	}

	var out []*models.Deck
	for _, d := range decks {
		for _, ancestor := range Ancestors(d.Name) {
			if _, ok := names[ancestor]; ok {
				continue
			}
			id := newID()
			for {
				if _, taken := used[id]; !taken && id != NoParent {
					break
				}
				id = newID()
			}
			used[id] = struct{}{}
			names[ancestor] = struct{}{}
			out = append(out, &models.Deck{ID: id, Name: ancestor, Collapsed: true, Synthesized: true})
		}
	}
	return out
}

// Ancestors returns every ancestor name, nearest first:
// "A::B::C" yields ["A::B", "A"].
func Ancestors(name string) []string {
	var out []string
	for {
		parent, ok := Parent(name)
		if !ok {
			return out
		}
		out = append(out, parent)
		name = parent
	}
}

// Parent strips the last segment of name.
func Parent(name string) (string, bool) {
	i := strings.LastIndex(name, Separator)
	if i < 0 {
		return "", false
	}
	return name[:i], true
}

// Depth is the number of separators in name.
func Depth(name string) int {
	return strings.Count(name, Separator)
}

// Sort orders decks by name using the collation for tag; equal names keep
// id order.
func Sort(decks []*models.Deck, tag language.Tag) {
	col := collate.New(tag)
	sort.SliceStable(decks, func(i, j int) bool {
		if c := col.CompareString(decks[i].Name, decks[j].Name); c != 0 {
			return c < 0
		}
		return decks[i].ID < decks[j].ID
	})
}

// IsHidden reports whether any ancestor of d is collapsed. It reads the
// current collapse state every call.
func IsHidden(d *models.Deck, decks []*models.Deck) bool {
	byName := make(map[string]*models.Deck, len(decks))
	for _, other := range decks {
		if _, seen := byName[other.Name]; !seen {
			byName[other.Name] = other
		}
	}
	for _, ancestor := range Ancestors(d.Name) {
		if p, ok := byName[ancestor]; ok && p.Collapsed {
			return true
		}
	}
	return false
}

// Find returns the deck with the given id, or nil.
func Find(decks []*models.Deck, id int64) *models.Deck {
	for _, d := range decks {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// nameIndex maps names to ids. Duplicate names resolve to the lowest id
// unless strict, in which case they fail.
func nameIndex(decks []*models.Deck, strict bool) (map[string]int64, error) {
	dups := make(map[string][]int64)
	index := make(map[string]int64, len(decks))
	for _, d := range decks {
		if prev, ok := index[d.Name]; ok {
			if len(dups[d.Name]) == 0 {
				dups[d.Name] = []int64{prev}
			}
			dups[d.Name] = append(dups[d.Name], d.ID)
			if d.ID < prev {
				index[d.Name] = d.ID
			}
			continue
		}
		index[d.Name] = d.ID
	}
	if strict && len(dups) > 0 {
		names := make([]string, 0, len(dups))
		for n := range dups {
			names = append(names, n)
		}
		sort.Strings(names)
		ids := dups[names[0]]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return nil, &apperr.HierarchyError{Name: names[0], IDs: ids}
	}
	return index, nil
}

// link derives HasChildren and ParentID from the current deck's own name.
func link(decks []*models.Deck, index map[string]int64) {
	for _, d := range decks {
		prefix := d.Name + Separator
		d.HasChildren = false
		for _, other := range decks {
			if other != d && strings.HasPrefix(other.Name, prefix) {
				d.HasChildren = true
				break
			}
		}
		d.ParentID = NoParent
		if parent, ok := Parent(d.Name); ok {
			d.ParentID = index[parent]
		}
	}
}

func sortByID(decks []*models.Deck) {
	sort.Slice(decks, func(i, j int) bool { return decks[i].ID < decks[j].ID })
}

func randomID() int64 {
	return rand.Int64N(1<<53-1) + 1
}
