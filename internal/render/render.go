// Package render converts detail-page body HTML into readable text.
//
// The output is markdown-flavored plain text suitable for chat webhooks:
// links become [text](href), emphasis becomes **text**, block elements
// break lines.
package render

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	policy       = bluemonday.UGCPolicy()
	excessBlanks = regexp.MustCompile(`\n{3,}`)
)

var blockElements = map[string]bool{
	"p": true, "div": true, "table": true, "tr": true,
	"ul": true, "ol": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "blockquote": true,
}

// Text renders an HTML fragment to markdown-flavored text. Malformed HTML
// degrades to whatever text could be extracted; the result is trimmed.
func Text(fragment string) string {
	sanitized := policy.Sanitize(fragment)

	nodes, err := html.ParseFragment(strings.NewReader(sanitized), nil)
	if err != nil {
		return strings.TrimSpace(sanitized)
	}

	var sb strings.Builder
	for _, n := range nodes {
		walk(n, &sb)
	}

	out := excessBlanks.ReplaceAllString(sb.String(), "\n\n")

	return strings.TrimSpace(out)
}

func walk(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(strings.ReplaceAll(n.Data, " ", " "))

		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			sb.WriteString("\n")

			return
		case "a":
			renderLink(n, sb)

			return
		case "strong", "b":
			sb.WriteString("**")
			walkChildren(n, sb)
			sb.WriteString("**")

			return
		case "li":
			sb.WriteString("- ")
			walkChildren(n, sb)
			sb.WriteString("\n")

			return
		}
	}

	walkChildren(n, sb)

	if n.Type == html.ElementNode && blockElements[n.Data] {
		sb.WriteString("\n\n")
	}
}

func walkChildren(n *html.Node, sb *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb)
	}
}

func renderLink(n *html.Node, sb *strings.Builder) {
	var inner strings.Builder

	walkChildren(n, &inner)

	text := strings.TrimSpace(inner.String())
	href := attr(n, "href")

	switch {
	case href == "" && text == "":
	case href == "":
		sb.WriteString(text)
	case text == "":
		sb.WriteString(href)
	default:
		sb.WriteString("[" + text + "](" + href + ")")
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}

	return ""
}
