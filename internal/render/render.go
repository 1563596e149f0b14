// Package render evaluates card templates against note fields: field
// placeholders, conditional sections, cloze deletions and the FrontSide
// self-reference, plus HTML stripping for plain-text views.
package render

import (
	"fmt"
	"strings"

	"github.com/starford/apkgview/internal/models"
)

// FrontSide names the placeholder replaced by the question render on the
// answer side.
const FrontSide = "FrontSide"

const clozePrefix = "cloze:"

// Options selects the side and the output form of a render.
type Options struct {
	Flipped      bool // render the answer format
	TextOnly     bool // strip markup from the result
	NoStylesheet bool // omit the model's <style> block
}

// MissingField is the inline diagnostic substituted for unknown fields.
func MissingField(name string) string {
	return fmt.Sprintf("ERROR: Field '%s' not found", name)
}

// Render evaluates t for note n. It never fails: unknown fields render as
// MissingField diagnostics.
func Render(m *models.Model, t *models.Template, n *models.Note, opts Options) string {
	format := t.QFmt
	if opts.Flipped {
		format = t.AFmt
	}
	ev := evaluator{model: m, tmpl: t, note: n, values: n.Values(), opts: opts}

	var b strings.Builder
	ev.eval(&b, parse(format))
	html := b.String()

	if opts.TextOnly {
		return StripHTML(html)
	}
	if opts.NoStylesheet {
		return html
	}
	return "<style>" + m.CSS + "</style>" + html
}

type evaluator struct {
	model  *models.Model
	tmpl   *models.Template
	note   *models.Note
	values []string
	opts   Options
}

func (e *evaluator) eval(b *strings.Builder, nodes []*node) {
	for _, n := range nodes {
		switch n.kind {
		case textNode:
			b.WriteString(n.text)
		case fieldNode:
			b.WriteString(e.field(n.text))
		case sectionNode:
			if e.nonEmpty(n.name) != n.inverted {
				e.eval(b, n.children)
			}
		}
	}
}

func (e *evaluator) field(name string) string {
	if strings.HasPrefix(name, clozePrefix) {
		target := name[len(clozePrefix):]
		value, ok := e.lookup(target)
		if !ok {
			value = MissingField(target)
		}
		return Cloze(e.tmpl.Ord, value, e.opts.Flipped)
	}
	if name == FrontSide && e.opts.Flipped {
		return Render(e.model, e.tmpl, e.note, Options{TextOnly: e.opts.TextOnly, NoStylesheet: true})
	}
	value, ok := e.lookup(name)
	if !ok {
		return MissingField(name)
	}
	return value
}

func (e *evaluator) nonEmpty(name string) bool {
	value, _ := e.lookup(name)
	return value != ""
}

// lookup returns the positional value of the named field. A known field
// beyond the end of a short field blob is empty.
func (e *evaluator) lookup(name string) (string, bool) {
	i := e.model.FieldIndex(name)
	if i < 0 {
		return "", false
	}
	if i >= len(e.values) {
		return "", true
	}
	return e.values[i], true
}
