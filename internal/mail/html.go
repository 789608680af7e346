package mail

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockAtoms are elements whose boundaries become line breaks when HTML
// is flattened to text.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Li: true, atom.Tr: true,
	atom.Td: true, atom.Th: true, atom.Blockquote: true, atom.Pre: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Dl: true,
	atom.Dt: true, atom.Dd: true,
}

// skipAtoms are elements whose entire content is dropped.
var skipAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Head: true, atom.Title: true,
}

// StripHTML flattens an HTML body to readable plain text. Block element
// boundaries become line breaks, script/style/head content is dropped,
// and whitespace is collapsed per line.
//
// Preformatted content loses its exact spacing; for retrieval over email
// bodies readability matters more than layout fidelity.
func StripHTML(rawHTML string) string {
	tok := html.NewTokenizer(strings.NewReader(rawHTML))

	var sb strings.Builder
	skipDepth := 0
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tok.TagName()
			a := atom.Lookup(name)
			if skipAtoms[a] && tt == html.StartTagToken {
				skipDepth++
				continue
			}
			if blockAtoms[a] {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			a := atom.Lookup(name)
			if skipAtoms[a] && skipDepth > 0 {
				skipDepth--
				continue
			}
			if blockAtoms[a] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			sb.Write(tok.Text())
		}
	}

	text := sb.String()
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, " ", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return collapseBlankLines(strings.Join(lines, "\n"))
}

// collapseBlankLines trims the text and limits runs of blank lines to one.
func collapseBlankLines(text string) string {
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
