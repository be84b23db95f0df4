// Package urlcheck gates outbound download URLs against server-side request
// forgery: only https URLs on allow-listed hosts with accepted binary-media
// extensions pass.
package urlcheck

import (
	"net/url"
	"path"
	"strings"

	apperrors "github.com/soundloom/soundloom/internal/errors"
)

// Checker validates external artifact URLs.
type Checker struct {
	hosts      map[string]struct{}
	extensions map[string]struct{}
}

// New constructs a Checker from the configured host and extension allow-lists.
func New(allowedHosts, allowedExtensions []string) *Checker {
	c := &Checker{
		hosts:      make(map[string]struct{}, len(allowedHosts)),
		extensions: make(map[string]struct{}, len(allowedExtensions)),
	}
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			c.hosts[h] = struct{}{}
		}
	}
	for _, e := range allowedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		c.extensions[e] = struct{}{}
	}
	return c
}

// Validate parses the raw URL and applies all three gates. A failure returns
// a security-kind error naming the rejected property, never the full URL.
func (c *Checker) Validate(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.Validation("external url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.Validation("external url is not a valid URL")
	}

	if !strings.EqualFold(u.Scheme, "https") {
		return nil, apperrors.Security("external url must use https")
	}

	host := strings.ToLower(u.Hostname())
	if _, ok := c.hosts[host]; !ok {
		return nil, apperrors.Security("external url host is not allow-listed")
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := c.extensions[ext]; !ok {
		return nil, apperrors.Security("external url extension is not an accepted media type")
	}

	return u, nil
}
