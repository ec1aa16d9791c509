package crawler

import (
	"net/url"
	"strings"
)

// Label derives the display label of a node: the URL path, or the host when
// the path is empty or the root. Unparseable input is returned unchanged.
func Label(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	p := u.EscapedPath()
	if p == "" || p == "/" {
		return u.Host
	}
	return p
}

// CleanSeeds trims whitespace, drops blank entries, and collapses duplicates
// while keeping first-seen order.
func CleanSeeds(seeds []string) []string {
	out := make([]string, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
