// Package search provides web search backends for the web_search tool.
package search

import "context"

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher runs a web query and returns at most max results.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}
