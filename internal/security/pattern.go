// Package security implements the CORS origin and trusted-host pattern
// matcher: exact strings, "*"-wildcards, and "re:"-prefixed regexes.
package security

import (
	"regexp"
	"strings"
)

// Pattern is a single compiled matcher built from one configured string.
type Pattern struct {
	raw     string
	exact   string
	isWild  bool
	wildSfx string // for "*.example.com", the bare suffix "example.com"
	re      *regexp.Regexp
}

// Compile builds a Pattern from a configured entry. Entries prefixed with
// "re:" are compiled as full-match regexes; entries containing "*" are
// wildcard patterns; everything else is an exact match.
func Compile(raw string) (*Pattern, error) {
	if strings.HasPrefix(raw, "re:") {
		expr := strings.TrimPrefix(raw, "re:")
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return nil, err
		}
		return &Pattern{raw: raw, re: re}, nil
	}

	if strings.Contains(raw, "*") {
		p := &Pattern{raw: raw, isWild: true}
		if strings.HasPrefix(raw, "*.") {
			p.wildSfx = strings.TrimPrefix(raw, "*.")
		}
		p.re = wildcardToRegexp(raw)
		return p, nil
	}

	return &Pattern{raw: raw, exact: raw}, nil
}

// wildcardToRegexp turns a single-"*" wildcard pattern into a compiled
// full-match regexp, escaping every other regex metacharacter.
func wildcardToRegexp(pattern string) *regexp.Regexp {
	parts := strings.SplitN(pattern, "*", 2)
	expr := "^" + regexp.QuoteMeta(parts[0]) + ".*" + regexp.QuoteMeta(parts[1]) + "$"
	return regexp.MustCompile(expr)
}

// Match reports whether value satisfies this pattern.
func (p *Pattern) Match(value string) bool {
	if p.exact != "" {
		return value == p.exact
	}
	if p.isWild {
		if p.wildSfx != "" && value == p.wildSfx {
			return true
		}
		return p.re.MatchString(value)
	}
	if p.re != nil {
		return p.re.MatchString(value)
	}
	return false
}

// Matcher holds a compiled set of patterns and matches a value against any
// of them — used for both the CORS origin list and the trusted-host list.
type Matcher struct {
	patterns []*Pattern
}

// NewMatcher compiles a list of raw pattern strings, skipping any pattern
// that fails to compile (invalid regex) rather than failing the whole set.
func NewMatcher(raws []string) *Matcher {
	m := &Matcher{}
	for _, raw := range raws {
		p, err := Compile(raw)
		if err != nil {
			continue
		}
		m.patterns = append(m.patterns, p)
	}
	return m
}

// MatchAny reports whether value matches at least one compiled pattern.
func (m *Matcher) MatchAny(value string) bool {
	for _, p := range m.patterns {
		if p.Match(value) {
			return true
		}
	}
	return false
}
