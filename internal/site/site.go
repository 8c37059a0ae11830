// Package site resolves raw page URLs into the identity used for
// accumulation rows: the full URL, its hostname, and the registrable
// parent domain.
package site

import (
	"fmt"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// Site is the resolved identity of a tracked page.
type Site struct {
	URL          string
	Hostname     string
	ParentDomain string
}

// Resolve parses rawURL and derives the hostname and registrable domain.
// A URL that cannot be parsed or has no hostname is a hard error: callers
// treat it as bad input, not as a site with empty identity.
//
// ParentDomain falls back to the hostname when the public suffix list
// cannot produce an eTLD+1, which is the normal case for IP addresses and
// single-label hosts like localhost.
func Resolve(rawURL string) (Site, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Site{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	host := u.Hostname()
	if host == "" {
		return Site{}, fmt.Errorf("url %q has no hostname", rawURL)
	}

	parent, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		parent = host
	}

	return Site{
		URL:          rawURL,
		Hostname:     host,
		ParentDomain: parent,
	}, nil
}
