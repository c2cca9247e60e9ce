package kvstore

import (
	"regexp"
	"strings"
)

// compileGlob turns a '*'-only glob pattern into an anchored regexp.
//
// '*' matches any run of characters (including none). Everything else is a
// literal: '?', '[' and ']' have no special meaning here, unlike full Redis
// glob syntax, so patterns behave identically on every backend.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i, literal := range strings.Split(pattern, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(literal))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// escapeRedisGlob backslash-escapes the Redis glob metacharacters we do not
// support ('?', '[', ']') so a pattern sent to Redis KEYS matches the same
// key set the in-memory backend would return.
func escapeRedisGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
