// Package extract locates the React Query state blob inlined in a storefront
// page and decodes it into a query bundle.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/nick-cb/game-reseller-scraper/internal/query"
	"github.com/nick-cb/game-reseller-scraper/internal/tree"
)

// Sentinel marks the script assignment that carries the page state.
const Sentinel = "__REACT_QUERY_INITIAL_QUERIES__"

// ErrMalformedState is returned when a page has no usable state blob.
var ErrMalformedState = errors.New("malformed embedded state")

// Extract scans every inline script of the page for the sentinel and decodes
// the blob assigned to it. When several scripts carry the sentinel the last
// one scanned wins.
func Extract(page string) (query.Bundle, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrMalformedState, err)
	}

	var (
		bundle query.Bundle
		found  bool
		failed error
	)
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(s.Nodes) == 0 {
			return true
		}
		text := scriptText(s.Nodes[0])
		if !strings.Contains(text, Sentinel) {
			return true
		}
		payload, err := Payload(text)
		if err != nil {
			failed = err
			return false
		}
		decoded, err := Decode([]byte(payload))
		if err != nil {
			failed = err
			return false
		}
		bundle = decoded
		found = true
		return true
	})
	if failed != nil {
		return nil, failed
	}
	if !found {
		return nil, fmt.Errorf("%w: sentinel %s not found", ErrMalformedState, Sentinel)
	}
	return bundle, nil
}

// Payload cuts the JSON text out of a script body containing the sentinel.
// The payload starts two bytes past the first space after the token and ends
// one byte before the first newline after the token.
func Payload(script string) (string, error) {
	start := strings.Index(script, Sentinel)
	if start < 0 {
		return "", fmt.Errorf("%w: sentinel %s not found", ErrMalformedState, Sentinel)
	}
	rest := script[start:]
	space := strings.IndexByte(rest, ' ')
	if space < 0 {
		return "", fmt.Errorf("%w: no assignment after sentinel", ErrMalformedState)
	}
	newline := strings.IndexByte(rest, '\n')
	if newline < 0 {
		return "", fmt.Errorf("%w: no line break after sentinel", ErrMalformedState)
	}
	from := start + space + 2
	to := start + newline - 1
	if from > to {
		return "", fmt.Errorf("%w: empty payload", ErrMalformedState)
	}
	return script[from:to], nil
}

// Decode parses a {"queries": [...]} document. Entries without a queryKey
// sequence are skipped.
func Decode(data []byte) (query.Bundle, error) {
	doc, err := tree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformedState, err)
	}
	entries, ok := doc.Get("queries").Items()
	if !ok {
		return nil, fmt.Errorf("%w: missing queries collection", ErrMalformedState)
	}
	bundle := make(query.Bundle, 0, len(entries))
	for _, entry := range entries {
		rec, ok := query.FromTree(entry)
		if !ok {
			continue
		}
		bundle = append(bundle, rec)
	}
	return bundle, nil
}

// ExtractBytes is Extract for raw page bodies.
func ExtractBytes(body []byte) (query.Bundle, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty page", ErrMalformedState)
	}
	return Extract(string(body))
}

// ExtractFile reads a saved page or a saved {"queries":[...]} state document.
// Files whose first non-blank byte is '{' are decoded as state JSON.
func ExtractFile(path string) (query.Bundle, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		return Decode(trimmed)
	}
	return ExtractBytes(body)
}

func scriptText(node *html.Node) string {
	var buf strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			buf.WriteString(child.Data)
		}
	}
	return buf.String()
}
