package server

import (
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open a signaling connection.
type OriginPolicy struct {
	any     bool
	allowed map[string]bool
}

// NewOriginPolicy builds a policy from configured origins. "*" allows any origin.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool)}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			p.any = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			p.allowed[n] = true
		}
	}
	return p
}

// Allows reports whether a request carrying the given Origin header is
// allowed. Non-browser clients send no Origin and are always allowed.
func (p *OriginPolicy) Allows(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" || p.any {
		return true
	}
	n, ok := normalizeOrigin(origin)
	return ok && p.allowed[n]
}

func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
