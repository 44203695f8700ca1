package cache

import (
	"regexp"
	"strings"
)

// globToRegexp translates a glob pattern into an anchored regular expression.
// '*' matches any run of characters, '?' matches exactly one; everything
// else is matched literally.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
