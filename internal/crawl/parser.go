package crawl

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// Link is an absolute http(s) anchor found on a page
type Link struct {
	URL  string
	Text string
}

type ParsedPage struct {
	Title string
	Links []Link
}

// PDFs returns the links whose path ends in .pdf, in page order
func (p *ParsedPage) PDFs() []Link {
	var out []Link
	for _, l := range p.Links {
		if IsPDF(l.URL) {
			out = append(out, l)
		}
	}
	return out
}

// IsPDF reports whether the URL path names a PDF document
func IsPDF(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func ParsePage(baseURL string, body []byte) (*ParsedPage, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	page := &ParsedPage{}
	seen := make(map[string]bool)

	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && page.Title == "" {
			if n.FirstChild != nil {
				page.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		}

		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" {
					continue
				}
				ref, err := url.Parse(href)
				if err != nil {
					continue
				}

				absolute := base.ResolveReference(ref)
				absolute.Fragment = ""
				if absolute.Scheme != "http" && absolute.Scheme != "https" {
					continue
				}
				link := absolute.String()
				if seen[link] {
					continue
				}
				seen[link] = true
				page.Links = append(page.Links, Link{URL: link, Text: anchorText(n)})
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walker(c)
		}
	}

	walker(doc)
	return page, nil
}

func anchorText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
