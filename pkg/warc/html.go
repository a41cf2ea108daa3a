package warc

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxHTMLSize bounds how much of a response body is parsed for page
// detection.
const maxHTMLSize = 8 << 20

func isHTML(mime string) bool {
	return mime == "text/html" || mime == "application/xhtml+xml"
}

// extractPage returns the document title and, when withText is set, the
// visible text with whitespace collapsed.
func extractPage(r io.Reader, withText bool) (title, text string) {
	z := html.NewTokenizer(r)
	var (
		sb      strings.Builder
		inTitle bool
		skip    int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(title), collapse(sb.String())

		case html.StartTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Title:
				inTitle = true
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				skip++
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Title:
				inTitle = false
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				if skip > 0 {
					skip--
				}
			}

		case html.TextToken:
			data := z.Text()
			if inTitle {
				if title == "" {
					title = collapse(string(data))
				}
				continue
			}
			if withText && skip == 0 {
				sb.Write(bytes.TrimSpace(data))
				sb.WriteByte(' ')
			}
		}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
