package trust

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Signals are structural facts read from the page markup.
type Signals struct {
	H1          int
	H2          int
	Viewport    bool
	JSONLD      int
	Microdata   bool
	SchemaTypes []string
}

// ExtractSignals parses html and collects heading, viewport and structured
// data signals.
func ExtractSignals(html string) (Signals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Signals{}, fmt.Errorf("parse html: %w", err)
	}
	s := Signals{
		H1:        doc.Find("h1").Length(),
		H2:        doc.Find("h2").Length(),
		Microdata: doc.Find("[itemscope]").Length() > 0,
	}
	doc.Find(`meta[name="viewport"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if content, ok := sel.Attr("content"); ok && strings.Contains(strings.ToLower(content), "width=") {
			s.Viewport = true
			return false
		}
		return true
	})

	types := map[string]struct{}{}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		body := strings.TrimSpace(sel.Text())
		if body == "" {
			return
		}
		s.JSONLD++
		var v any
		if err := json.Unmarshal([]byte(body), &v); err == nil {
			collectTypes(v, types)
		}
	})
	for t := range types {
		s.SchemaTypes = append(s.SchemaTypes, t)
	}
	sort.Strings(s.SchemaTypes)
	return s, nil
}

func collectTypes(v any, into map[string]struct{}) {
	switch n := v.(type) {
	case []any:
		for _, item := range n {
			collectTypes(item, into)
		}
	case map[string]any:
		switch t := n["@type"].(type) {
		case string:
			into[t] = struct{}{}
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					into[s] = struct{}{}
				}
			}
		}
		if graph, ok := n["@graph"]; ok {
			collectTypes(graph, into)
		}
	}
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
