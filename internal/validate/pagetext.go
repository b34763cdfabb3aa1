package validate

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// visibleText extracts the human-readable text of an HTML document. Script,
// style and noscript subtrees are skipped so that inline JavaScript cannot
// feed keyword or red-flag matching. Whitespace is collapsed to single
// spaces.
func visibleText(body []byte) string {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return strings.Join(strings.Fields(b.String()), " ")
}
