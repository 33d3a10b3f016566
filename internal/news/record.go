// Package news defines the record model shared across storage subsystems.
package news

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Record is one news article as produced by a crawler worker.
// Title, Content, URL and Source are required; everything else is optional.
type Record struct {
	ID            string    `json:"id,omitempty"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	URL           string    `json:"url"`
	Source        string    `json:"source"`
	Category      string    `json:"category,omitempty"`
	PubTime       time.Time `json:"pub_time,omitempty"`
	CrawlTime     time.Time `json:"crawl_time,omitempty"`
	Author        string    `json:"author,omitempty"`
	Keywords      []string  `json:"keywords,omitempty"`
	Images        []string  `json:"images,omitempty"`
	RelatedStocks []string  `json:"related_stocks,omitempty"`
	Sentiment     string    `json:"sentiment,omitempty"`
	Status        string    `json:"status,omitempty"`
}

// ValidationError reports a malformed record field. It is never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// Validate checks the required-field invariant. The same check is applied on
// ingestion and by the consistency validator when scoring stored rows.
func (r Record) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"title", r.Title},
		{"content", r.Content},
		{"url", r.URL},
		{"source", r.Source},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "is required"}
		}
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return &ValidationError{Field: "url", Reason: "does not parse"}
	}
	if u.Scheme == "" || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be absolute"}
	}
	return nil
}

// NormalizeURL canonicalizes a URL for identity purposes: scheme and host are
// lowercased and the fragment is dropped. The stored url column keeps the
// submitted form; normalization only feeds DeriveID.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// DeriveID computes the stable record ID from a URL. Repeated ingestion of
// the same URL always derives the same ID.
func DeriveID(rawURL string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return hex.EncodeToString(sum[:])
}

// EnsureID fills a missing ID from the URL and returns the record. An
// explicitly supplied ID is kept as-is.
func (r Record) EnsureID() Record {
	if r.ID == "" {
		r.ID = DeriveID(r.URL)
	}
	return r
}

// EncodeList serializes an ordered string list for a text column. Empty and
// nil lists both encode to the empty-array form.
func EncodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

// DecodeList parses a serialized list column. Blank cells decode to nil so
// legacy rows written before the column existed still scan.
func DecodeList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return items, nil
}
