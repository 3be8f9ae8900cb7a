// Package normalize canonicalizes raw inventory strings into a product name
// and an optional version, used to seed cache keys.
package normalize

import (
	"regexp"
	"strings"
)

// Query is the normalized form of a raw inventory string. It is derived on
// demand and never persisted.
type Query struct {
	Raw     string
	Name    string
	Version string
}

// noiseTokens are architecture, bitness and edition markers that carry no
// identity. They are dropped before version splitting.
var noiseTokens = map[string]struct{}{
	"x86":     {},
	"x64":     {},
	"amd64":   {},
	"i386":    {},
	"i686":    {},
	"arm64":   {},
	"aarch64": {},
	"32-bit":  {},
	"64-bit":  {},
	"32bit":   {},
	"64bit":   {},
	"lts":       {},
	"edition":   {},
	"pro":       {},
	"desktop":   {},
	"home":      {},
	"education": {},
}

// nonVersionWords are tokens that must never be read as a version even if a
// pattern matches them, e.g. edition qualifiers trailing the name.
var nonVersionWords = map[string]struct{}{
	"server":       {},
	"enterprise":   {},
	"professional": {},
	"standard":     {},
	"datacenter":   {},
	"community":    {},
}

// Version patterns are tried most-specific first so a multi-part version is
// never truncated by the bare-integer pattern.
var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:19|20)\d{2}(?:\.\d+)*$`), // year-style: 2019, 2022.1
	regexp.MustCompile(`^\d+(?:\.\d+)+$`),            // dotted: 22.04, 3.11.2
	regexp.MustCompile(`^\d+$`),                      // bare integer: 10
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize canonicalizes raw free text. It strips noise tokens, collapses
// whitespace, lowercases the name and splits a trailing version token. Pure
// function; the worst case returns the trimmed input unmodified.
func Normalize(raw string) Query {
	q := Query{Raw: raw}

	s := whitespace.ReplaceAllString(strings.TrimSpace(raw), " ")
	if s == "" {
		return q
	}

	tokens := strings.Split(s, " ")
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		bare := strings.Trim(strings.ToLower(tok), "()[]")
		if bare == "" {
			continue
		}
		if _, noise := noiseTokens[bare]; noise {
			continue
		}
		kept = append(kept, bare)
	}
	if len(kept) == 0 {
		return q
	}

	// Strip trailing version-shaped tokens until none remain so the resulting
	// name is a fixpoint of Normalize. The rightmost token is the version
	// candidate.
	for len(kept) > 1 && isVersion(kept[len(kept)-1]) {
		if q.Version == "" {
			q.Version = kept[len(kept)-1]
		}
		kept = kept[:len(kept)-1]
	}

	q.Name = strings.Join(kept, " ")
	return q
}

func isVersion(tok string) bool {
	if _, word := nonVersionWords[tok]; word {
		return false
	}
	for _, p := range versionPatterns {
		if p.MatchString(tok) {
			return true
		}
	}
	return false
}
