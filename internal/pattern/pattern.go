// Package pattern parses the "comma list or regex:<expr>" settings used for
// no-delay domains and non-checkable errors.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// RegexPrefix marks a setting as a regular expression.
const RegexPrefix = "regex:"

// Mode selects how list entries are compared.
type Mode int

const (
	// Equal matches list entries exactly.
	Equal Mode = iota
	// Prefix matches when the subject starts with a list entry.
	Prefix
)

// Set is a parsed setting. The zero value matches nothing.
type Set struct {
	mode  Mode
	items []string
	re    *regexp.Regexp
}

// Parse reads a setting. Regular expressions may be written bare or between
// slashes with trailing flags, as in "regex:/^http_status:40[13]/i".
func Parse(setting string, mode Mode) (*Set, error) {
	setting = strings.TrimSpace(setting)
	s := &Set{mode: mode}
	if setting == "" {
		return s, nil
	}

	if expr, ok := strings.CutPrefix(setting, RegexPrefix); ok {
		re, err := Compile(strings.TrimSpace(expr))
		if err != nil {
			return nil, err
		}
		s.re = re
		return s, nil
	}

	for _, item := range strings.Split(setting, ",") {
		if item = strings.TrimSpace(item); item != "" {
			s.items = append(s.items, item)
		}
	}
	return s, nil
}

// MustParse is Parse for settings known to be valid.
func MustParse(setting string, mode Mode) *Set {
	s, err := Parse(setting, mode)
	if err != nil {
		panic(err)
	}
	return s
}

// Compile compiles a regular expression, accepting the /expr/flags form.
// Only the i, m and s flags are understood.
func Compile(expr string) (*regexp.Regexp, error) {
	if len(expr) >= 2 && expr[0] == '/' {
		if end := strings.LastIndex(expr, "/"); end > 0 {
			body, flags := expr[1:end], expr[end+1:]
			var prefix string
			for _, f := range flags {
				switch f {
				case 'i', 'm', 's':
					prefix += string(f)
				default:
					return nil, fmt.Errorf("unsupported regex flag %q in %s", f, expr)
				}
			}
			if prefix != "" {
				body = "(?" + prefix + ")" + body
			}
			expr = body
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return re, nil
}

// Match reports whether subject matches the setting.
func (s *Set) Match(subject string) bool {
	if s == nil || subject == "" {
		return false
	}
	if s.re != nil {
		return s.re.MatchString(subject)
	}
	for _, item := range s.items {
		if s.mode == Prefix && strings.HasPrefix(subject, item) {
			return true
		}
		if s.mode == Equal && strings.EqualFold(subject, item) {
			return true
		}
	}
	return false
}

// Empty reports whether the setting matches nothing.
func (s *Set) Empty() bool {
	return s == nil || (s.re == nil && len(s.items) == 0)
}
