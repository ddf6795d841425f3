package browser

import (
	"html"
	"regexp"
	"strings"
)

var (
	// strippedRe removes whole blocks that never render as text
	strippedRe = regexp.MustCompile(`(?is)<script\b.*?</script>|<style\b.*?</style>|<noscript\b.*?</noscript>|<!--.*?-->`)

	// breakRe marks tags that end a line of rendered text
	breakRe = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div|li|tr|h[1-6]|section|article|header|footer|blockquote|pre|table|ul|ol)>`)

	tagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	spaceRe = regexp.MustCompile(`[ \t\r\x{00a0}]+`)
)

// htmlToText reduces an HTML document to the text a reader would see.
// It is deliberately small; a page that needs a real DOM is what the
// rendered fetch is for. Script, style and comment blocks go first so
// their bodies never leak into the text.
func htmlToText(doc string) string {
	doc = strippedRe.ReplaceAllString(doc, " ")
	doc = breakRe.ReplaceAllString(doc, "\n")
	doc = tagRe.ReplaceAllString(doc, " ")
	doc = html.UnescapeString(doc)
	return collapseText(doc)
}

// htmlTitle pulls the document title, empty when there is none.
func htmlTitle(doc string) string {
	m := titleRe.FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(html.UnescapeString(m[1])), " ")
}

// collapseText squeezes whitespace runs and drops empty lines so the
// result reads as compact plain text.
func collapseText(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
