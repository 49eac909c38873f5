package comm

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownToTelegramHTML converts common LLM markdown output to Telegram's
// safe HTML subset (<b> <i> <code> <pre> <a> <s>), grounded on
// original_source/syne/communication/formatting.py's
// markdown_to_telegram_html (bold/italic/code/pre/links/headers/tables,
// tables rendered as <pre> for monospace alignment). Parsing is done with
// goldmark's CommonMark AST instead of formatting.py's line-by-line regex
// scan, which is more robust against nested/nested-fence edge cases; on any
// render panic or walk error it falls back to the HTML-escaped plain text
// rather than propagating the error to the caller.
func MarkdownToTelegramHTML(src string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = html.EscapeString(src)
		}
	}()

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader([]byte(src)))

	var b strings.Builder
	renderNode(&b, doc, []byte(src))
	return strings.TrimSpace(b.String())
}

func renderNode(b *strings.Builder, n ast.Node, source []byte) {
	switch node := n.(type) {
	case *ast.Document:
		renderChildren(b, node, source)
	case *ast.Paragraph:
		renderChildren(b, node, source)
		b.WriteString("\n\n")
	case *ast.Heading:
		b.WriteString("<b>")
		renderChildren(b, node, source)
		b.WriteString("</b>\n\n")
	case *ast.FencedCodeBlock:
		b.WriteString("<pre>")
		b.WriteString(html.EscapeString(codeBlockText(node, source)))
		b.WriteString("</pre>\n\n")
	case *ast.CodeBlock:
		b.WriteString("<pre>")
		b.WriteString(html.EscapeString(codeBlockText(node, source)))
		b.WriteString("</pre>\n\n")
	case *ast.List:
		renderChildren(b, node, source)
		b.WriteString("\n")
	case *ast.ListItem:
		b.WriteString("• ")
		renderChildren(b, node, source)
	case *ast.Emphasis:
		tag := "i"
		if node.Level >= 2 {
			tag = "b"
		}
		fmt.Fprintf(b, "<%s>", tag)
		renderChildren(b, node, source)
		fmt.Fprintf(b, "</%s>", tag)
	case *ast.CodeSpan:
		b.WriteString("<code>")
		renderChildren(b, node, source)
		b.WriteString("</code>")
	case *ast.Link:
		b.WriteString(`<a href="` + html.EscapeString(string(node.Destination)) + `">`)
		renderChildren(b, node, source)
		b.WriteString("</a>")
	case *ast.AutoLink:
		dest := string(node.URL(source))
		b.WriteString(`<a href="` + html.EscapeString(dest) + `">` + html.EscapeString(dest) + `</a>`)
	case *ast.Text:
		b.WriteString(html.EscapeString(string(node.Segment.Value(source))))
		if node.HardLineBreak() || node.SoftLineBreak() {
			b.WriteString("\n")
		}
	case *ast.String:
		b.WriteString(html.EscapeString(string(node.Value)))
	default:
		renderChildren(b, n, source)
	}
}

func renderChildren(b *strings.Builder, n ast.Node, source []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		renderNode(b, c, source)
	}
}

func codeBlockText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		l := lines.At(i)
		buf.Write(l.Value(source))
	}
	return strings.TrimRight(buf.String(), "\n")
}
