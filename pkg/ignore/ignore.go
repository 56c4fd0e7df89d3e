// Package ignore decides which file names are left out of an overwrite backup.
//
// Rules are plain strings matched against a single file name (never a path):
//
//	session.lock   exact name
//	tmp*           name starts with "tmp"
//	*.lock         name ends with ".lock"
//
// A rule that both starts and ends with '*' is checked as a prefix and as a
// suffix rule. Empty rules never match. Matching is case-sensitive.
package ignore

import "strings"

// Matcher holds the pre-classified ignore rules.
// The zero value ignores nothing.
type Matcher struct {
	literals map[string]struct{}
	prefixes []string
	suffixes []string
}

// New analyzes and categorizes rules once so IsIgnored does no string surgery.
func New(rules []string) *Matcher {
	m := &Matcher{literals: make(map[string]struct{}, len(rules))}
	for _, r := range rules {
		if r == "" {
			continue
		}
		if strings.HasSuffix(r, "*") {
			m.prefixes = append(m.prefixes, strings.TrimSuffix(r, "*"))
		}
		if strings.HasPrefix(r, "*") {
			m.suffixes = append(m.suffixes, strings.TrimPrefix(r, "*"))
		}
		m.literals[r] = struct{}{}
	}
	return m
}

// IsIgnored reports whether name matches any rule.
func (m *Matcher) IsIgnored(name string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.literals[name]; ok {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
