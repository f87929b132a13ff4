// Package htmlmeta extracts Open Graph and title metadata from HTML pages.
package htmlmeta

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const maxPageBytes = 2 << 20

// Meta is the subset of page metadata used to describe a candidate image.
type Meta struct {
	Title       string
	Description string
	Image       string
}

// Parse walks an HTML document and collects og:image, og:title,
// og:description (with twitter:* and <title> as fallbacks).
func Parse(r io.Reader) (*Meta, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	props := make(map[string]string)
	var title string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				key, content := metaPair(n)
				if key != "" && content != "" {
					if _, seen := props[key]; !seen {
						props[key] = content
					}
				}
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return &Meta{
		Title:       first(props["og:title"], props["twitter:title"], title),
		Description: first(props["og:description"], props["twitter:description"], props["description"]),
		Image:       first(props["og:image"], props["og:image:url"], props["og:image:secure_url"], props["twitter:image"]),
	}, nil
}

func metaPair(n *html.Node) (string, string) {
	var key, content string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "property", "name":
			if key == "" {
				key = strings.ToLower(strings.TrimSpace(attr.Val))
			}
		case "content":
			content = strings.TrimSpace(attr.Val)
		}
	}
	return key, content
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Page is the outcome of fetching a URL for metadata.
type Page struct {
	// FinalURL is the URL after redirects.
	FinalURL    string
	ContentType string
	Meta        *Meta
}

// IsImage reports whether the fetched URL served an image directly.
func (p *Page) IsImage() bool {
	return strings.HasPrefix(p.ContentType, "image/")
}

type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{httpClient: httpClient, userAgent: "Mozilla/5.0 (compatible; story-pipeline/1.0)"}
}

// Fetch follows redirects and parses HTML responses. Image responses are
// returned without Meta.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	page := &Page{
		FinalURL:    resp.Request.URL.String(),
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
	}
	if page.IsImage() {
		return page, nil
	}
	if !strings.Contains(page.ContentType, "html") {
		return nil, fmt.Errorf("unsupported content type %q for %s", page.ContentType, url)
	}

	meta, err := Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}
	page.Meta = meta
	return page, nil
}

// ImageURL resolves url to a direct image URL: the final URL for image
// responses, og:image for HTML pages.
func (f *Fetcher) ImageURL(ctx context.Context, url string) (string, error) {
	page, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if page.IsImage() {
		return page.FinalURL, nil
	}
	if page.Meta == nil || page.Meta.Image == "" {
		return "", fmt.Errorf("no og:image found at %s", url)
	}
	return page.Meta.Image, nil
}
