// Package slug derives URL-safe slugs from titles.
package slug

import (
	"regexp"
	"strings"
)

var (
	nonWordRe = regexp.MustCompile(`[^\w\s-]`)
	spaceRe   = regexp.MustCompile(`\s+`)
	hyphenRe  = regexp.MustCompile(`-{2,}`)
	validRe   = regexp.MustCompile(`^[a-z0-9_]+(-[a-z0-9_]+)*$`)
)

// Make lower-cases title, strips non-word characters and joins words with
// single hyphens. It returns "" when nothing usable remains.
func Make(title string) string {
	s := strings.ToLower(title)
	s = nonWordRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = spaceRe.ReplaceAllString(s, "-")
	s = hyphenRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Valid reports whether s has the shape Make produces.
func Valid(s string) bool {
	return validRe.MatchString(s)
}
