package reviews

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	orgSlugDigitsRe = regexp.MustCompile(`/org/([a-zA-Z0-9_-]+)/(\d{5,})`)
	orgDigitsRe     = regexp.MustCompile(`/org/(\d{5,})`)
	oidAnywhereRe   = regexp.MustCompile(`oid=(\d{5,})`)
)

// ParseOrganizationID extracts an organization id, slug, and mirror host
// tag from a user-supplied URL. It never contacts the network and never
// panics on malformed input; a recognition failure comes back as a
// *ValidationError (spec.md §4.1).
func ParseOrganizationID(rawURL string) (*ParsedOrgID, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, &ValidationError{Reason: "empty url"}
	}

	host := detectHostTag(trimmed)

	if m := orgSlugDigitsRe.FindStringSubmatch(trimmed); m != nil {
		return &ParsedOrgID{OrgID: m[2], Slug: m[1], HostTag: host}, nil
	}
	if m := orgDigitsRe.FindStringSubmatch(trimmed); m != nil {
		return &ParsedOrgID{OrgID: m[1], HostTag: host}, nil
	}
	if parsed, err := url.Parse(trimmed); err == nil {
		if oid := parsed.Query().Get("oid"); isDigitsAtLeast(oid, 5) {
			return &ParsedOrgID{OrgID: oid, HostTag: host}, nil
		}
	}
	if m := oidAnywhereRe.FindStringSubmatch(trimmed); m != nil {
		return &ParsedOrgID{OrgID: m[1], HostTag: host}, nil
	}

	return nil, &ValidationError{Reason: "no organization id recognized in url"}
}

func detectHostTag(rawURL string) HostTag {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "yandex.com"):
		return HostCOM
	case strings.Contains(lower, "yandex.ru"):
		return HostRU
	default:
		return HostRU
	}
}

func isDigitsAtLeast(s string, n int) bool {
	if len(s) < n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// MirrorHost returns the hostname to address for a given host tag.
func MirrorHost(tag HostTag) string {
	if tag == HostCOM {
		return "yandex.com"
	}
	return "yandex.ru"
}
