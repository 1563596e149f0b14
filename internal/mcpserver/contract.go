package mcpserver

// TemplateSyntax describes the card template grammar that render_card
// evaluates, so LLM consumers can reason about what a card shows.
const TemplateSyntax = `# Card Template Syntax

Each note type carries one or more card templates. A template has a question
format and an answer format; both are HTML with the placeholders below.

## Placeholders

| Form | Meaning |
|------|---------|
| ` + "`{{Field}}`" + ` | Value of the field named Field |
| ` + "`{{#Field}}...{{/Field}}`" + ` | Body kept only when Field is non-empty |
| ` + "`{{^Field}}...{{/Field}}`" + ` | Body kept only when Field is empty |
| ` + "`{{cloze:Field}}`" + ` | Field with cloze deletions applied for the current card |
| ` + "`{{FrontSide}}`" + ` | The rendered question; only meaningful in the answer format |

A placeholder naming a field the note type does not have renders as
` + "`ERROR: Field 'X' not found`" + `. Field names are matched exactly; other
modifiers such as ` + "`text:`" + ` are not understood and hit the same error.
A section over an unknown field counts as empty.

## Cloze deletions

Cloze note types render one card per distinct cloze number found in the
note's fields. A deletion is written ` + "`{{cN::text}}`" + ` or ` + "`{{cN::text::hint}}`" + `.

- On the question of card N, deletion N shows as ` + "`[...]`" + `, or ` + "`[hint]`" + ` when a hint is given.
- On the answer of card N, deletion N shows its text.
- Deletions with other numbers always show their text.

## Text output

render_card returns plain text. Style and script elements are removed,
images become their alt text (or file name), ` + "`<br>`" + ` and block closers become
newlines, remaining tags are dropped and runs of spaces and blank lines are
collapsed.
`
