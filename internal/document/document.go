package document

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"magnetcatalog/pkg/types"
)

// noiseSelectors never carry titles, links or headings worth reading.
const noiseSelectors = "script,noscript,style,iframe,template"

// Document is a parsed page that can be queried for anchors, elements and links.
type Document struct {
	doc  *goquery.Document
	base *url.URL
}

// Anchor is an <a> element with its href and visible text.
type Anchor struct {
	Href string
	Text string
	node *html.Node
}

// Attr returns an attribute of the anchor.
func (a Anchor) Attr(name string) (string, bool) {
	return lookupAttr(a.node, name)
}

// Element is any matched element reduced to tag, visible text and attributes.
type Element struct {
	Tag  string
	Text string
	node *html.Node
}

// Attr returns an attribute of the element.
func (e Element) Attr(name string) (string, bool) {
	return lookupAttr(e.node, name)
}

// Parse builds a Document from a fetched page.
func Parse(page *types.Page) (*Document, error) {
	if page == nil {
		return nil, fmt.Errorf("page is nil")
	}
	if len(page.Body) == 0 {
		return nil, fmt.Errorf("page body empty")
	}
	return FromReader(bytes.NewReader(page.Body), page.Base())
}

// FromReader parses HTML from r. base may be nil when links are not resolved.
func FromReader(r io.Reader, base *url.URL) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find(noiseSelectors).Remove()
	return &Document{doc: doc, base: base}, nil
}

// FromString is a convenience wrapper over FromReader.
func FromString(body string, base *url.URL) (*Document, error) {
	return FromReader(strings.NewReader(body), base)
}

// Base returns the URL relative links resolve against.
func (d *Document) Base() *url.URL {
	if d == nil {
		return nil
	}
	return d.base
}

// Anchors returns every <a> element in document order, including ones without href.
func (d *Document) Anchors() []Anchor {
	if d == nil {
		return nil
	}
	sel := d.doc.Find("a")
	anchors := make([]Anchor, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		href, _ := lookupAttr(node, "href")
		anchors = append(anchors, Anchor{
			Href: strings.TrimSpace(href),
			Text: TextContent(node),
			node: node,
		})
	})
	return anchors
}

// AnchorsIn returns the anchors matched by selector, in document order.
func (d *Document) AnchorsIn(selector string) []Anchor {
	if d == nil || strings.TrimSpace(selector) == "" {
		return nil
	}
	var anchors []Anchor
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil || !strings.EqualFold(node.Data, "a") {
			return
		}
		href, _ := lookupAttr(node, "href")
		anchors = append(anchors, Anchor{Href: strings.TrimSpace(href), Text: TextContent(node), node: node})
	})
	return anchors
}

// FindAll returns the elements matched by a CSS selector in document order.
// A comma-separated selector yields the union, still in document order.
func (d *Document) FindAll(selector string) []Element {
	if d == nil || strings.TrimSpace(selector) == "" {
		return nil
	}
	sel := d.doc.Find(selector)
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		out = append(out, Element{Tag: strings.ToLower(node.Data), Text: TextContent(node), node: node})
	})
	return out
}

// FirstText returns the visible text of the first element matching selector.
func (d *Document) FirstText(selector string) string {
	if d == nil || strings.TrimSpace(selector) == "" {
		return ""
	}
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	return TextContent(sel.Get(0))
}

// Title returns the text of the <title> element.
func (d *Document) Title() string {
	return d.FirstText("title")
}

// Resolve turns ref into an absolute URL against the document base.
func (d *Document) Resolve(ref string) (*url.URL, error) {
	return Resolve(d.Base(), ref)
}

// Resolve turns ref into an absolute URL against base. Fragments are dropped.
func Resolve(base *url.URL, ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty reference")
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference %q: %w", ref, err)
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("reference %q is not absolute and no base is known", ref)
	}
	parsed.Fragment = ""
	return parsed, nil
}

// TextContent returns the whitespace-normalised visible text beneath node.
func TextContent(node *html.Node) string {
	if node == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text := normalizeWhitespace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		case html.ElementNode:
			if strings.EqualFold(n.Data, "br") && b.Len() > 0 {
				b.WriteString(" ")
			}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				walk(child)
			}
		}
	}
	walk(node)
	return normalizeWhitespace(b.String())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func lookupAttr(node *html.Node, attr string) (string, bool) {
	if node == nil {
		return "", false
	}
	for _, a := range node.Attr {
		if strings.EqualFold(a.Key, attr) {
			return a.Val, true
		}
	}
	return "", false
}
