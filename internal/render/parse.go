package render

import (
	"regexp"
	"strings"
)

// tagRe matches one {{...}} placeholder across lines; the group is the tag
// body without surrounding whitespace.
var tagRe = regexp.MustCompile(`\{\{\s*([\s\S]*?)\s*\}\}`)

type nodeKind int

const (
	textNode nodeKind = iota
	fieldNode
	sectionNode
)

type node struct {
	kind     nodeKind
	text     string // textNode: literal; fieldNode: tag body
	name     string // sectionNode: field tested
	inverted bool   // sectionNode: {{^Name}}
	children []*node
}

type frame struct {
	sec *node
	raw string // tag body of the opener, replayed as a field if never closed
}

// parse splits a template into text, field and section nodes. Sections are
// matched with a stack so they nest to any depth, including under the same
// name. An opener without a closer, or a closer without an opener, is kept
// as an ordinary field placeholder.
func parse(tmpl string) []*node {
	root := &node{kind: sectionNode}
	stack := []frame{{sec: root}}

	emit := func(n *node) {
		top := stack[len(stack)-1].sec
		top.children = append(top.children, n)
	}
	// unwind pops frames above depth, replaying each opener as a field.
	unwind := func(depth int) {
		for len(stack) > depth {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			emit(&node{kind: fieldNode, text: f.raw})
			for _, c := range f.sec.children {
				emit(c)
			}
		}
	}

	pos := 0
	for _, m := range tagRe.FindAllStringSubmatchIndex(tmpl, -1) {
		if m[0] > pos {
			emit(&node{kind: textNode, text: tmpl[pos:m[0]]})
		}
		pos = m[1]
		body := tmpl[m[2]:m[3]]

		switch {
		case strings.HasPrefix(body, "#"), strings.HasPrefix(body, "^"):
			sec := &node{
				kind:     sectionNode,
				name:     strings.TrimSpace(body[1:]),
				inverted: body[0] == '^',
			}
			stack = append(stack, frame{sec: sec, raw: body})

		case strings.HasPrefix(body, "/"):
			name := strings.TrimSpace(body[1:])
			open := -1
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].sec.name == name {
					open = i
					break
				}
			}
			if open < 0 {
				emit(&node{kind: fieldNode, text: body})
				continue
			}
			unwind(open + 1)
			sec := stack[open].sec
			stack = stack[:open]
			emit(sec)

		default:
			emit(&node{kind: fieldNode, text: body})
		}
	}
	if pos < len(tmpl) {
		emit(&node{kind: textNode, text: tmpl[pos:]})
	}
	unwind(1)
	return root.children
}
