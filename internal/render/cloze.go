package render

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/apkgview/internal/models"
)

// clozeRe matches {{cN::text}} and {{cN::text::hint}}.
var clozeRe = regexp.MustCompile(`\{\{\s*c(\d+)::([\s\S]+?)(?:::([\s\S]+?))?\s*\}\}`)

// Cloze rewrites every cloze span in html for card ordinal ord. Spans of the
// card's own ordinal are revealed on the answer side and masked with the
// hint (or "...") on the question side; all other spans stay visible as
// inactive text on both sides.
func Cloze(ord int, html string, flipped bool) string {
	var b strings.Builder
	pos := 0
	for _, m := range clozeRe.FindAllStringSubmatchIndex(html, -1) {
		b.WriteString(html[pos:m[0]])
		pos = m[1]

		num, _ := strconv.Atoi(html[m[2]:m[3]])
		content := html[m[4]:m[5]]
		if num != ord {
			b.WriteString(`<span class="cloze-inactive">` + content + `</span>`)
			continue
		}
		b.WriteString(`<span class="cloze">`)
		if flipped {
			b.WriteString(content)
		} else {
			hint := "..."
			if m[6] >= 0 {
				hint = html[m[6]:m[7]]
			}
			b.WriteString("[" + hint + "]")
		}
		b.WriteString(`</span>`)
	}
	b.WriteString(html[pos:])
	return b.String()
}

// ClozeNumbers returns the distinct cloze ordinals of n, ascending. Only the
// first template's question format is consulted, after its cloze: fields
// are replaced by their raw values.
func ClozeNumbers(m *models.Model, n *models.Note) []int {
	if len(m.Templates) == 0 {
		return nil
	}
	values := n.Values()
	html := tagRe.ReplaceAllStringFunc(m.Templates[0].QFmt, func(tag string) string {
		body := tagRe.FindStringSubmatch(tag)[1]
		if !strings.HasPrefix(body, clozePrefix) {
			return ""
		}
		i := m.FieldIndex(body[len(clozePrefix):])
		if i < 0 || i >= len(values) {
			return ""
		}
		return values[i]
	})

	seen := map[int]struct{}{}
	var out []int
	for _, sm := range clozeRe.FindAllStringSubmatch(html, -1) {
		num, err := strconv.Atoi(sm[1])
		if err != nil {
			continue
		}
		if _, dup := seen[num]; dup {
			continue
		}
		seen[num] = struct{}{}
		out = append(out, num)
	}
	sort.Ints(out)
	return out
}

// Templates returns the templates a note renders as cards. A cloze model
// yields one copy of its first template per cloze ordinal, named "Card N";
// other models return their stored templates.
func Templates(m *models.Model, n *models.Note) []*models.Template {
	if !m.IsCloze() {
		return m.Templates
	}
	if len(m.Templates) == 0 {
		return nil
	}
	nums := ClozeNumbers(m, n)
	out := make([]*models.Template, 0, len(nums))
	for _, num := range nums {
		t := *m.Templates[0]
		t.Ord = num
		t.Name = fmt.Sprintf("Card %d", num)
		out = append(out, &t)
	}
	return out
}
