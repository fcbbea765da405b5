package collector

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/sells-group/intel-cli/internal/model"
)

const maxExtractedLinks = 100

// parsePage extracts the structured summary recorded alongside each web
// observation: title, meta description, canonical URL, H1 headings, and
// resolved links.
func parsePage(raw []byte, pageURL string, statusCode int) *model.WebPage {
	page := &model.WebPage{
		URL:        pageURL,
		FinalURL:   pageURL,
		StatusCode: statusCode,
	}

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return page
	}

	base, _ := url.Parse(pageURL)
	walkPage(doc, page, base)
	return page
}

func walkPage(n *html.Node, page *model.WebPage, base *url.URL) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "title":
			if page.Title == "" {
				page.Title = strings.TrimSpace(textContent(n))
			}
		case "meta":
			if strings.EqualFold(attrValue(n, "name"), "description") {
				page.MetaDescription = attrValue(n, "content")
			}
		case "link":
			if strings.EqualFold(attrValue(n, "rel"), "canonical") {
				page.CanonicalURL = attrValue(n, "href")
			}
		case "h1":
			if text := strings.TrimSpace(textContent(n)); text != "" {
				page.H1Tags = append(page.H1Tags, text)
			}
		case "a":
			if href := attrValue(n, "href"); href != "" {
				if resolved := resolveLink(base, href); resolved != "" {
					page.Links = append(page.Links, resolved)
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkPage(c, page, base)
	}
	if len(page.Links) > maxExtractedLinks {
		page.Links = page.Links[:maxExtractedLinks]
	}
}

// resolveLink makes href absolute against the page URL and drops anchors
// and non-HTTP schemes.
func resolveLink(base *url.URL, href string) string {
	if strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
