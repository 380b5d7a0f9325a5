package parser

import (
	"context"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/spike2204/intelligent-qa/pkg/utils"
)

var multiNewlinePattern = regexp.MustCompile(`\n{3,}`)

// MarkdownParser normalizes markdown (and plain text, which is a subset)
// through the goldmark AST: inline formatting is dropped, heading markers
// and paragraph boundaries survive.
type MarkdownParser struct{}

var _ Parser = (*MarkdownParser)(nil)

func NewMarkdownParser() *MarkdownParser { return &MarkdownParser{} }

func (p *MarkdownParser) FileTypes() []string { return []string{"md", "markdown", "txt"} }

func (p *MarkdownParser) Parse(_ context.Context, filename string, data []byte) (string, error) {
	source := []byte(utils.SanitizeUTF8(string(data)))

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if entering {
				sb.WriteString(strings.Repeat("#", node.Level))
				sb.WriteString(" ")
			} else {
				sb.WriteString("\n\n")
			}
		case *ast.Paragraph:
			if !entering {
				sb.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				sb.WriteString("\n")
			}
		case *ast.ListItem:
			if entering {
				sb.WriteString("- ")
			}
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(source))
				if node.HardLineBreak() || node.SoftLineBreak() {
					sb.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					// Segment.Value has a pointer receiver; At returns a value.
					seg := lines.At(i)
					sb.Write(seg.Value(source))
				}
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", NewProcessError(filename, err)
	}

	out := multiNewlinePattern.ReplaceAllString(sb.String(), "\n\n")
	return strings.TrimSpace(out), nil
}
