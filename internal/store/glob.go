package store

import (
	"regexp"
	"strings"
)

// compileGlob translates a KEYS pattern into an anchored regexp: '?'
// matches any single character, '*' matches any run, and a bracket
// class like [abc], [a-z], or [^x] passes through to the regex engine
// unchanged, exactly as spec.md §9 "glob-to-regex" directs. Everything
// else is escaped so a key containing a regex metacharacter the glob
// grammar doesn't advertise (e.g. '.', '+') is matched literally rather
// than reinterpreted.
// CompileGlob is the exported form of compileGlob, for callers outside
// this package that need the same KEYS-style glob grammar — e.g.
// PUBSUB CHANNELS [pattern], which spec.md §6 says matches channel
// names with "the same glob grammar as KEYS".
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	return compileGlob(pattern)
}

func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '?':
			b.WriteByte('.')
		case '*':
			b.WriteString(".*")
		case '[':
			end := i + 1
			if end < len(runes) && runes[end] == '^' {
				end++
			}
			if end < len(runes) && runes[end] == ']' {
				end++
			}
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			if end >= len(runes) {
				// Unterminated class: treat '[' as a literal.
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			b.WriteString(string(runes[i : end+1]))
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
