package config

import (
	"fmt"
	"regexp"
	"strings"
)

// normalizeDenylistDomains canonicalizes user-supplied denylist entries to
// bare lowercase hostnames so they match the hostnames the store compares
// against. Entries that normalize to nothing are dropped.
func normalizeDenylistDomains(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, raw := range entries {
		if d := NormalizeDenylistDomain(raw); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// NormalizeDenylistDomain strips scheme, path, port, and leading dots from
// a denylist entry: "https://Example.com:443/x" and ".example.com" both
// become "example.com".
func NormalizeDenylistDomain(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, ".")
}

// validateDenylistRegex checks that every user-supplied pattern compiles.
// Config is the user-facing surface, so a broken pattern fails the load
// instead of being silently skipped downstream.
func validateDenylistRegex(patterns []string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("denylist regex %q: %w", p, err)
		}
	}
	return nil
}
