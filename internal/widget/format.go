// ABOUTME: Turns message bodies into safe HTML for rendering
// ABOUTME: Markdown via goldmark, allow-list sanitizing via bluemonday, product cards kept intact

package widget

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// ProductCardMarker identifies pre-rendered product card markup.
const ProductCardMarker = `<div class="nexcart-product-card">`

var imageAlt = regexp.MustCompile(`^[^<>\x00-\x1f]*$`)

// Formatter renders message bodies. It is safe for concurrent use.
type Formatter struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewFormatter creates a formatter with the widget's tag allow-list.
func NewFormatter() *Formatter {
	return &Formatter{
		md: goldmark.New(
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
				gmhtml.WithUnsafe(),
			),
		),
		policy: ContentPolicy(),
	}
}

// ContentPolicy is the allow-list applied to every rendered message:
// basic emphasis, paragraphs, lists, links, images and the product card classes.
func ContentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("strong", "em", "b", "i", "br", "p", "ul", "ol", "li", "div", "span", "code")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^nexcart-[a-z-]+$`)).OnElements("div", "span", "img", "a")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AllowAttrs("rel").Matching(regexp.MustCompile(`^noopener( noreferrer)?$`)).OnElements("a")
	p.AllowImages()
	// Product names in alt text may carry any printable punctuation; the
	// sanitizer re-escapes attribute values on output.
	p.AllowAttrs("alt").Matching(imageAlt).OnElements("img")
	return p
}

// Format renders body for display. Non-user bodies carrying a product card
// are backend markup and are only sanitized; everything else is markdown.
// User bodies are always HTML-escaped before markdown rendering.
func (f *Formatter) Format(body string, role Role) string {
	if role != RoleUser && strings.Contains(body, ProductCardMarker) {
		return f.policy.Sanitize(body)
	}

	src := body
	if role == RoleUser {
		src = html.EscapeString(body)
	}

	var buf bytes.Buffer
	if err := f.md.Convert([]byte(src), &buf); err != nil {
		return html.EscapeString(body)
	}

	return strings.TrimSpace(f.policy.Sanitize(buf.String()))
}
