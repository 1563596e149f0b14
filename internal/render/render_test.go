package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/apkgview/internal/models"
)

const basicCSS = ".card { color: black; }"

func basicModel(qfmt, afmt string) *models.Model {
	return &models.Model{
		ID:     1,
		Name:   "Basic",
		Type:   models.ModelStandard,
		Fields: []models.Field{{Name: "Front"}, {Name: "Back"}},
		Templates: []*models.Template{
			{ID: 0, Name: "Card 1", Ord: 0, QFmt: qfmt, AFmt: afmt},
		},
		CSS: basicCSS,
	}
}

func clozeModel() *models.Model {
	return &models.Model{
		ID:     2,
		Name:   "Cloze",
		Type:   models.ModelCloze,
		Fields: []models.Field{{Name: "Text"}, {Name: "Extra"}},
		Templates: []*models.Template{
			{ID: 0, Name: "Cloze", Ord: 0, QFmt: "{{cloze:Text}}", AFmt: "{{cloze:Text}}<br>{{Extra}}"},
		},
		CSS: ".cloze {}",
	}
}

func note(values ...string) *models.Note {
	return &models.Note{ID: 1, Fields: strings.Join(values, models.FieldSeparator)}
}

func TestRender_FieldSubstitution(t *testing.T) {
	m := basicModel("{{Front}} / {{ Back }}", "")
	got := Render(m, m.Templates[0], note("Capital", "Paris"), Options{})
	assert.Equal(t, "<style>"+basicCSS+"</style>Capital / Paris", got)
}

func TestRender_NoStylesheet(t *testing.T) {
	m := basicModel("{{Front}}", "")
	got := Render(m, m.Templates[0], note("Capital", "Paris"), Options{NoStylesheet: true})
	assert.Equal(t, "Capital", got)
}

func TestRender_MissingField(t *testing.T) {
	m := basicModel("before {{Bogus}} after", "")
	got := Render(m, m.Templates[0], note("a", "b"), Options{NoStylesheet: true})
	assert.Equal(t, "before ERROR: Field 'Bogus' not found after", got)
}

func TestRender_FrontSide(t *testing.T) {
	m := basicModel("<div>{{Front}}</div>", "{{FrontSide}}<hr id=answer>{{Back}}")
	n := note("Capital of France", "Paris")
	tmpl := m.Templates[0]

	question := Render(m, tmpl, n, Options{NoStylesheet: true})
	answer := Render(m, tmpl, n, Options{Flipped: true})

	assert.Equal(t, "<style>"+basicCSS+"</style>"+question+"<hr id=answer>Paris", answer)
	assert.Equal(t, 1, strings.Count(answer, "<style>"), "nested render must not inject the stylesheet")
}

func TestRender_FrontSideOnQuestionSide(t *testing.T) {
	m := basicModel("{{FrontSide}}", "")
	got := Render(m, m.Templates[0], note("a", "b"), Options{NoStylesheet: true})
	assert.Equal(t, MissingField("FrontSide"), got)
}

func TestRender_TextOnly(t *testing.T) {
	m := basicModel("{{Front}}", "{{FrontSide}}<hr id=answer>{{Back}}")
	n := note("Capital of France", `Paris <img src="paris.jpg">`)
	got := Render(m, m.Templates[0], n, Options{Flipped: true, TextOnly: true})
	assert.Equal(t, "Capital of FranceParis paris.jpg", got)
}

func TestRender_Sections(t *testing.T) {
	tests := []struct {
		name   string
		tmpl   string
		values []string
		want   string
	}{
		{"positive present", "{{#Back}}has {{Back}}{{/Back}}", []string{"f", "b"}, "has b"},
		{"positive empty", "{{#Back}}has{{/Back}}", []string{"f", ""}, ""},
		{"inverted empty", "{{^Back}}none{{/Back}}", []string{"f", ""}, "none"},
		{"inverted present", "{{^Back}}none{{/Back}}", []string{"f", "b"}, ""},
		{"inverted unknown field", "{{^Nope}}shown{{/Nope}}", []string{"f", "b"}, "shown"},
		{"multi-line", "{{#Front}}\nline1\nline2\n{{/Front}}", []string{"f", ""}, "\nline1\nline2\n"},
		{"nested distinct", "{{#Front}}a{{#Back}}b{{/Back}}c{{/Front}}", []string{"f", ""}, "ac"},
		{"nested same name", "{{#Front}}x{{#Front}}y{{/Front}}z{{/Front}}", []string{"f", ""}, "xyz"},
		{"padded tags", "{{# Front }}ok{{/ Front }}", []string{"f", ""}, "ok"},
		{"unclosed opener", "{{#Front}}x", []string{"f", ""}, MissingField("#Front") + "x"},
		{"orphan closer", "x{{/Front}}", []string{"f", ""}, "x" + MissingField("/Front")},
		{"crossed sections", "{{#Front}}a{{#Back}}b{{/Front}}c{{/Back}}", []string{"f", "b"}, "a" + MissingField("#Back") + "bc" + MissingField("/Back")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := basicModel(tt.tmpl, "")
			got := Render(m, m.Templates[0], note(tt.values...), Options{NoStylesheet: true})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_ShortFieldBlob(t *testing.T) {
	m := basicModel("[{{Back}}]", "")
	got := Render(m, m.Templates[0], note("only front"), Options{NoStylesheet: true})
	assert.Equal(t, "[]", got)
}

func TestRender_Cloze(t *testing.T) {
	m := clozeModel()
	n := note("{{c1::London}} and {{c2::Paris}}", "Europe")
	cards := Templates(m, n)
	require.Len(t, cards, 2)
	card2 := cards[1]
	require.Equal(t, 2, card2.Ord)

	question := Render(m, card2, n, Options{NoStylesheet: true})
	assert.Equal(t, `<span class="cloze-inactive">London</span> and <span class="cloze">[...]</span>`, question)

	answer := Render(m, card2, n, Options{Flipped: true, NoStylesheet: true})
	assert.Equal(t, `<span class="cloze-inactive">London</span> and <span class="cloze">Paris</span><br>Europe`, answer)
}

func TestRender_ClozeMissingField(t *testing.T) {
	m := clozeModel()
	m.Templates[0].QFmt = "{{cloze:Nope}}"
	got := Render(m, m.Templates[0], note("x", "y"), Options{NoStylesheet: true})
	assert.Equal(t, MissingField("Nope"), got)
}

func TestCloze(t *testing.T) {
	assert.Equal(t, `<span class="cloze">[capital]</span>`, Cloze(1, "{{c1::Paris::capital}}", false))
	assert.Equal(t, `<span class="cloze">Paris</span>`, Cloze(1, "{{c1::Paris::capital}}", true))
	assert.Equal(t, `<span class="cloze-inactive">Paris</span>`, Cloze(3, "{{c1::Paris::capital}}", true))
	assert.Equal(t, "a <span class=\"cloze\">[...]</span>\nb", Cloze(12, "a {{c12::multi\nline}}\nb", false))
	assert.Equal(t, "no clozes", Cloze(1, "no clozes", false))
}

func TestClozeNumbers_NumericOrder(t *testing.T) {
	m := clozeModel()
	n := note("{{c10::x}} {{c2::y}} {{c2::z}} {{c1::w}}", "")
	assert.Equal(t, []int{1, 2, 10}, ClozeNumbers(m, n))
}

func TestClozeNumbers_OnlyClozeFields(t *testing.T) {
	m := clozeModel()
	m.Templates[0].QFmt = "{{Extra}} {{#Text}}{{cloze:Text}}{{/Text}}"
	n := note("{{c3::x}}", "{{c9::not scanned}}")
	assert.Equal(t, []int{3}, ClozeNumbers(m, n))
}

func TestTemplates(t *testing.T) {
	t.Run("cloze copies first template", func(t *testing.T) {
		m := clozeModel()
		cards := Templates(m, note("{{c2::a}} {{c1::b}}", ""))
		require.Len(t, cards, 2)
		assert.Equal(t, "Card 1", cards[0].Name)
		assert.Equal(t, 1, cards[0].Ord)
		assert.Equal(t, "Card 2", cards[1].Name)
		assert.Equal(t, m.Templates[0].QFmt, cards[1].QFmt)
		assert.Equal(t, "Cloze", m.Templates[0].Name, "stored template untouched")
		assert.Equal(t, 0, m.Templates[0].Ord)
	})
	t.Run("cloze without spans", func(t *testing.T) {
		assert.Empty(t, Templates(clozeModel(), note("plain", "")))
	})
	t.Run("standard model", func(t *testing.T) {
		m := basicModel("{{Front}}", "{{Back}}")
		assert.Equal(t, m.Templates, Templates(m, note("a", "b")))
	})
}
