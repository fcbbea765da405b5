// Package normalize canonicalizes raw markup so that two renderings of the
// same underlying content produce the same string, and therefore the same
// fingerprint. It strips scripts, styles, comments, tracking parameters, and
// volatile attributes; everything that survives is serialized in document
// order with attributes sorted by key, so the output does not depend on
// parser-internal attribute ordering.
package normalize

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// volatileAttrs carry session, visitor, or analytics identifiers that change
// between renderings without representing a content change.
var volatileAttrs = map[string]bool{
	"data-timestamp":  true,
	"data-session":    true,
	"data-visitor-id": true,
	"data-analytics":  true,
	"data-gtm":        true,
	"data-ga":         true,
}

// Normalize canonicalizes HTML for stable hashing. Malformed input never
// fails the caller: if parsing or serialization yields nothing usable, the
// plain-text extraction fallback is hashed instead.
func Normalize(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return ExtractText(raw)
	}

	prune(doc)

	var b strings.Builder
	render(&b, doc)
	out := collapseWhitespace(b.String())
	if out == "" {
		return ExtractText(raw)
	}
	return out
}

// prune removes non-content nodes and volatile attributes in place.
func prune(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if shouldDrop(c) {
			n.RemoveChild(c)
			continue
		}
		prune(c)
	}

	if n.Type != html.ElementNode {
		return
	}

	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if volatileAttrs[strings.ToLower(a.Key)] {
			continue
		}
		if isLinkAttr(n, a.Key) {
			a.Val = CleanURL(a.Val)
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func shouldDrop(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return true
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return true
		}
	}
	return false
}

// isLinkAttr reports whether the attribute carries a URL that should have
// tracking parameters stripped.
func isLinkAttr(n *html.Node, key string) bool {
	switch strings.ToLower(key) {
	case "href":
		return n.DataAtom == atom.A || n.DataAtom == atom.Link || n.DataAtom == atom.Area
	case "src":
		return n.DataAtom == atom.Img || n.DataAtom == atom.Iframe ||
			n.DataAtom == atom.Source || n.DataAtom == atom.Audio || n.DataAtom == atom.Video
	}
	return false
}

// voidElements never carry children and render without a closing tag.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Source: true, atom.Track: true,
	atom.Wbr: true,
}

// render serializes the pruned tree. Unlike html.Render it emits attributes
// sorted by key, pinning down the serialization order the fingerprint
// depends on instead of inheriting it from the parser.
func render(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(html.EscapeString(n.Data))
	case html.ElementNode:
		b.WriteByte('<')
		b.WriteString(n.Data)
		attrs := make([]html.Attribute, len(n.Attr))
		copy(attrs, n.Attr)
		sort.Slice(attrs, func(i, j int) bool {
			if attrs[i].Key != attrs[j].Key {
				return attrs[i].Key < attrs[j].Key
			}
			return attrs[i].Val < attrs[j].Val
		})
		for _, a := range attrs {
			b.WriteByte(' ')
			b.WriteString(a.Key)
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(a.Val))
			b.WriteByte('"')
		}
		b.WriteByte('>')
		if voidElements[n.DataAtom] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(b, c)
		}
		b.WriteString("</")
		b.WriteString(n.Data)
		b.WriteByte('>')
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(b, c)
		}
	}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	interTagRe   = regexp.MustCompile(`>\s+<`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	scriptRe     = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
)

func collapseWhitespace(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = interTagRe.ReplaceAllString(s, "><")
	return strings.TrimSpace(s)
}

// ExtractText is the fallback canonicalization: script and style blocks
// removed, all tags stripped, entities decoded, whitespace collapsed. It is
// used when full normalization cannot produce a usable result, and by
// collectors that fingerprint plain text.
func ExtractText(raw string) string {
	s := scriptRe.ReplaceAllString(raw, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
