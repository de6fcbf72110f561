package biorxiv

import "encoding/json"

// DetailsResponse is the envelope returned by the details endpoint.
type DetailsResponse struct {
	Messages   []Message `json:"messages"`
	Collection []Entry   `json:"collection"`
}

// Message carries status and paging metadata for one details page. The API
// is loose about numeric types, so counters decode as json.Number.
type Message struct {
	Status string      `json:"status"`
	Cursor json.Number `json:"cursor"`
	Count  json.Number `json:"count"`
	Total  json.Number `json:"total"`
}

// Entry is one preprint row in a details page.
type Entry struct {
	DOI      string `json:"doi"`
	Title    string `json:"title"`
	Authors  string `json:"authors"` // semicolon-separated "Last, F.; Last, F."
	Date     string `json:"date"`    // "2023-01-15"
	Abstract string `json:"abstract"`
	Server   string `json:"server"`
}
