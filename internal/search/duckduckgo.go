package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"
	userAgent            = "Mozilla/5.0 (compatible; toolstream)"
	maxBodyBytes         = 2 << 20
)

// DuckDuckGo searches the DuckDuckGo HTML endpoint, which needs no API key.
type DuckDuckGo struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewDuckDuckGo returns a searcher for baseURL, or the public endpoint
// when baseURL is empty. A nil client gets a 15 second timeout.
func NewDuckDuckGo(baseURL string, client *http.Client) *DuckDuckGo {
	if baseURL == "" {
		baseURL = DefaultDuckDuckGoURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DuckDuckGo{BaseURL: baseURL, HTTPClient: client}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	results, err := parseResults(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if max > 0 && len(results) > max {
		results = results[:max]
	}
	return results, nil
}

// parseResults extracts hits from a DuckDuckGo HTML results page. Titles
// are anchors with class result__a; snippets have class result__snippet
// and belong to the preceding title.
func parseResults(r io.Reader) ([]Result, error) {
	z := html.NewTokenizer(r)

	var results []Result
	var field *string // text target while inside a title or snippet
	depth := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("parse search results: %w", err)
			}
			break
		}
		tok := z.Token()

		switch tt {
		case html.StartTagToken:
			if field != nil {
				depth++
				continue
			}
			class := attrVal(tok.Attr, "class")
			switch {
			case hasClass(class, "result__a"):
				results = append(results, Result{URL: resolveURL(attrVal(tok.Attr, "href"))})
				field = &results[len(results)-1].Title
				depth = 0
			case hasClass(class, "result__snippet") && len(results) > 0:
				field = &results[len(results)-1].Snippet
				depth = 0
			}
		case html.EndTagToken:
			if field == nil {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			*field = strings.Join(strings.Fields(*field), " ")
			field = nil
		case html.TextToken:
			if field != nil {
				*field += tok.Data
			}
		}
	}

	out := results[:0]
	for _, r := range results {
		if r.URL != "" && r.Title != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// resolveURL unwraps DuckDuckGo redirect links ("/l/?uddg=<target>").
func resolveURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}

func hasClass(classAttr, name string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == name {
			return true
		}
	}
	return false
}

func attrVal(attrs []html.Attribute, name string) string {
	for _, a := range attrs {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
