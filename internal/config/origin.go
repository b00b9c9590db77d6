package config

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/logging"
)

const wildcardOrigin = "*"

// normalizeOrigins dedups and normalizes origins. Entries that are not a
// valid scheme://host are returned separately as ignored.
func normalizeOrigins(origins []string) (normalized, ignored []string) {
	normalized = make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		value := wildcardOrigin
		if trimmed != wildcardOrigin {
			var ok bool
			value, ok = NormalizeOrigin(trimmed)
			if !ok {
				ignored = append(ignored, origin)
				continue
			}
		}

		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}

	return normalized, ignored
}

// NormalizeOrigin reduces an origin to lowercase scheme://host form.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// OriginPolicy answers whether a browser origin may connect.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy builds a policy from a list of origins. "*" allows all.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	normalized, ignored := normalizeOrigins(origins)
	for _, origin := range ignored {
		logging.Warn("Ignoring invalid origin in configuration", zap.String("origin", origin))
	}
	for _, origin := range normalized {
		if origin == wildcardOrigin {
			p.allowAll = true
			continue
		}
		p.allowed[origin] = struct{}{}
	}
	return p
}

// Allowed reports whether origin is permitted. An empty origin is not.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if p.allowAll {
		return true
	}

	normalized, ok := NormalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// AllowAll reports whether the policy accepts every origin.
func (p *OriginPolicy) AllowAll() bool {
	return p.allowAll
}
