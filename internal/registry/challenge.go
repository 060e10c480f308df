package registry

import (
	"fmt"
	"regexp"
)

// challenge holds the bearer-token parameters a registry advertises in WWW-Authenticate.
type challenge struct {
	Realm   string
	Service string
	Scope   string
}

var (
	realmRegex   = regexp.MustCompile(`(?i)\brealm="([^"]+)"`)
	serviceRegex = regexp.MustCompile(`(?i)\bservice="([^"]+)"`)
	scopeRegex   = regexp.MustCompile(`(?i)\bscope="([^"]+)"`)
)

// parseChallenge extracts realm, service and scope from a WWW-Authenticate header value.
// All three must be present.
func parseChallenge(header string) (challenge, error) {
	var c challenge

	attrs := []struct {
		name  string
		regex *regexp.Regexp
		dst   *string
	}{
		{"realm", realmRegex, &c.Realm},
		{"service", serviceRegex, &c.Service},
		{"scope", scopeRegex, &c.Scope},
	}

	for _, attr := range attrs {
		m := attr.regex.FindStringSubmatch(header)
		if m == nil {
			return challenge{}, fmt.Errorf("%w: missing %s in %q", ErrInvalidChallenge, attr.name, header)
		}
		*attr.dst = m[1]
	}

	return c, nil
}
