// Package parser collects the stylesheets and scripts a page references.
package parser

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	stylesheetSelector = "link[rel~=stylesheet][href]"
	scriptSelector     = "script[src]"
)

// Assets holds resolved, deduplicated asset URLs of one page.
type Assets struct {
	Stylesheets []string `json:"stylesheets"`
	Scripts     []string `json:"scripts"`
}

// CollectAssets parses raw and collects its assets. A document that cannot
// be parsed yields empty Assets.
func CollectAssets(raw, baseURL string) Assets {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return Assets{Stylesheets: []string{}, Scripts: []string{}}
	}
	return CollectFromDocument(doc, baseURL)
}

// CollectFromDocument collects assets from an already parsed document.
func CollectFromDocument(doc *goquery.Document, baseURL string) Assets {
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	styles := newURLSet()
	doc.Find(stylesheetSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		styles.add(resolveURL(base, href))
	})

	scripts := newURLSet()
	doc.Find(scriptSelector).Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		scripts.add(resolveURL(base, src))
	})

	return Assets{
		Stylesheets: styles.list(),
		Scripts:     scripts.list(),
	}
}

// Merge unions a with URLs observed on the network while the page loaded.
func Merge(a Assets, observedStylesheets, observedScripts []string) Assets {
	styles := newURLSet()
	for _, u := range a.Stylesheets {
		styles.add(u)
	}
	for _, u := range observedStylesheets {
		styles.add(resolveURL(nil, u))
	}

	scripts := newURLSet()
	for _, u := range a.Scripts {
		scripts.add(u)
	}
	for _, u := range observedScripts {
		scripts.add(resolveURL(nil, u))
	}

	return Assets{
		Stylesheets: styles.list(),
		Scripts:     scripts.list(),
	}
}

// resolveURL resolves ref against base. It returns "" for references that
// do not resolve to an absolute http(s) URL.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return ""
	}
	return parsed.String()
}

type urlSet map[string]struct{}

func newURLSet() urlSet {
	return make(urlSet)
}

func (s urlSet) add(u string) {
	if u != "" {
		s[u] = struct{}{}
	}
}

func (s urlSet) list() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
