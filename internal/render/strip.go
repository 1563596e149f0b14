package render

import (
	"regexp"
	"strings"
)

var (
	imgAltRe   = regexp.MustCompile(`<img[^>]+alt="([^"]+)"[^>]*>`)
	imgSrcRe   = regexp.MustCompile(`<img[^>]+src="([^"]+)"[^>]*>`)
	rawOpenRe  = regexp.MustCompile(`<(style|script)[^>]*>`)
	breakRe    = regexp.MustCompile(`</(div|li|ul|p)>|<br>`)
	anyTagRe   = regexp.MustCompile(`<[^>]+>`)
	spacesRe   = regexp.MustCompile(` {2,}`)
	newlinesRe = regexp.MustCompile(`\n{2,}`)
	mathRe     = regexp.MustCompile(`(?s)\\\[.*\\\]|\\\(.*\\\)`)
)

const nbsp = "\u00a0"

// StripHTML reduces markup to plain text. Images become their alt text, or
// their src when alt is absent; style and script elements vanish with their
// content; block closers and <br> become newlines; remaining tags drop.
func StripHTML(html string) string {
	s := imgAltRe.ReplaceAllString(html, "$1 ")
	s = imgSrcRe.ReplaceAllString(s, "$1 ")
	s = stripRawElements(s)
	s = breakRe.ReplaceAllString(s, "\n")
	s = anyTagRe.ReplaceAllString(s, "")
	s = spacesRe.ReplaceAllString(s, " ")
	s = newlinesRe.ReplaceAllString(s, "\n")
	s = strings.ReplaceAll(s, "&nbsp;", nbsp)
	return strings.TrimSpace(s)
}

// stripRawElements removes <style>…</style> and <script>…</script>, each
// closed by the first matching end tag. An opener with no end tag is kept.
func stripRawElements(s string) string {
	var b strings.Builder
	for {
		m := rawOpenRe.FindStringSubmatchIndex(s)
		if m == nil {
			b.WriteString(s)
			return b.String()
		}
		closer := "</" + s[m[2]:m[3]] + ">"
		end := strings.Index(s[m[1]:], closer)
		if end < 0 {
			b.WriteString(s[:m[0]+1])
			s = s[m[0]+1:]
			continue
		}
		b.WriteString(s[:m[0]])
		s = s[m[1]+end+len(closer):]
	}
}

// HasMath reports whether text carries \[…\] or \(…\) delimiters, so a
// host can decide to run a math typesetter.
func HasMath(text string) bool {
	return mathRe.MatchString(text)
}
