package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Scope decides which discovered links belong to a seed's traversal.
type Scope struct {
	host           string
	path           string
	restrictToPath bool
	subdomains     *regexp.Regexp
}

// NewScope builds the scope for a seed. Seeds without a host are rejected.
func NewScope(seedURL string, opts Options) (Scope, error) {
	u, err := url.Parse(seedURL)
	if err != nil {
		return Scope{}, fmt.Errorf("parse seed: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Scope{}, fmt.Errorf("seed %q has no host", seedURL)
	}
	s := Scope{
		host:           host,
		path:           u.Path,
		restrictToPath: opts.RestrictToPath,
	}
	if opts.IncludeSubdomains {
		// The host must sit behind "." or "//" and be followed by a URL delimiter,
		// so "evila.com" never matches "a.com".
		s.subdomains = regexp.MustCompile(`(?i)([.]|//)` + regexp.QuoteMeta(host) + `(/|#|\?|$|:)`)
	}
	return s, nil
}

// Host returns the seed host the scope compares against.
func (s Scope) Host() string {
	return s.host
}

// Allows reports whether an absolute link is in scope.
func (s Scope) Allows(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if s.subdomains != nil {
		if !s.subdomains.MatchString(link) {
			return false
		}
	} else if host != s.host {
		return false
	}
	if s.restrictToPath && s.path != "" && s.path != "/" {
		return strings.HasPrefix(u.Path, s.path)
	}
	return true
}
