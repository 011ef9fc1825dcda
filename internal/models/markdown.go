package models

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MarkdownRenderer converts bot response text into HTML. Raw HTML inside the text is kept, since the chat
// backend already embeds line breaks, links and emphasis tags in its answers. When a sanitizer policy is
// set, the produced HTML is passed through it before being returned.
type MarkdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdownRenderer creates a MarkdownRenderer. If sanitize is true, the output is filtered with a user
// generated content policy that also allows tel: links and the inline colors of highlighted code.
func NewMarkdownRenderer(sanitize bool) MarkdownRenderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithUnsafe(),
		),
	)

	var policy *bluemonday.Policy
	if sanitize {
		policy = bluemonday.UGCPolicy()
		policy.AllowURLSchemes("mailto", "http", "https", "tel")
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		policy.AllowAttrs("style").OnElements("span", "pre")
		policy.AllowStyles("color", "background-color", "font-weight", "font-style", "text-decoration").
			OnElements("span", "pre")
	}

	return MarkdownRenderer{
		md:     md,
		policy: policy,
	}
}

// Render converts text to HTML.
func (m MarkdownRenderer) Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	if m.policy == nil {
		return buf.String(), nil
	}
	return m.policy.Sanitize(buf.String()), nil
}
