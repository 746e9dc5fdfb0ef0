package analyzer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// maxMetadataBody caps how much of a page we read looking for metadata.
const maxMetadataBody = 1 << 20

// fetchMetadata downloads a page and extracts its title, description,
// and Open Graph tags. The result map holds only the keys that were
// present.
func fetchMetadata(ctx context.Context, client *http.Client, rawURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("analyzer: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("analyzer: fetch %s: content type %q", rawURL, ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxMetadataBody))
	if err != nil {
		return nil, fmt.Errorf("analyzer: parse %s: %w", rawURL, err)
	}
	return extractMetadata(doc), nil
}

// extractMetadata walks the parsed document for <title> and the meta
// tags we care about.
func extractMetadata(doc *html.Node) map[string]any {
	meta := make(map[string]any)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					if _, ok := meta["title"]; !ok {
						meta["title"] = strings.TrimSpace(n.FirstChild.Data)
					}
				}
			case "meta":
				name, content := "", ""
				for _, a := range n.Attr {
					switch a.Key {
					case "name", "property":
						name = a.Val
					case "content":
						content = a.Val
					}
				}
				if content == "" {
					break
				}
				switch name {
				case "description":
					meta["description"] = content
				case "og:title":
					meta["og_title"] = content
				case "og:description":
					meta["og_description"] = content
				case "og:image":
					meta["og_image"] = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(meta) == 0 {
		return nil
	}
	return meta
}
