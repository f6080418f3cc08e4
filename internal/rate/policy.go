package rate

import (
	"strings"
	"time"
)

// Rule is one limit applied to a route. Path and Prefix are ignored for the
// policy default.
type Rule struct {
	Path   string        `koanf:"path"`
	Prefix bool          `koanf:"prefix"`
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

// WindowOrDefault returns the rule window, falling back to one minute.
func (r Rule) WindowOrDefault() time.Duration {
	if r.Window <= 0 {
		return time.Minute
	}
	return r.Window
}

func (r Rule) matches(path string) bool {
	if r.Path == "" {
		return false
	}
	if path == r.Path {
		return true
	}
	return r.Prefix && strings.HasPrefix(path, r.Path)
}

// Policy maps request paths to rules. Overrides are evaluated in
// registration order and the first match wins.
type Policy struct {
	Default   Rule     `koanf:"default"`
	Overrides []Rule   `koanf:"overrides"`
	Exempt    []string `koanf:"exempt"`
}

// Resolve returns the rule that applies to path.
func (p Policy) Resolve(path string) Rule {
	for _, rule := range p.Overrides {
		if rule.matches(path) {
			return rule
		}
	}
	return p.Default
}

// IsExempt reports whether path bypasses rate limiting entirely.
func (p Policy) IsExempt(path string) bool {
	for _, exempt := range p.Exempt {
		if path == exempt {
			return true
		}
	}
	return false
}
