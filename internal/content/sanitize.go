package content

import (
	"regexp"
	"strings"
)

var (
	leadingLabel = regexp.MustCompile(`(?i)^\s*(caption|description|post|text|here is (the|your) caption)\s*:\s*`)
	headingLine  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	italic       = regexp.MustCompile(`(^|[^\w*])\*([^*\s](?:[^*\n]*[^*\s])?)\*($|[^\w*])`)
	bulletLine   = regexp.MustCompile(`(?m)^\s*[-•]\s+`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// emphasis only matches paired delimiters so arithmetic like "3 * 4" survives.
var emphasis = []*regexp.Regexp{
	regexp.MustCompile(`\*\*([^*\n]+?)\*\*`),
	regexp.MustCompile(`__([^_\n]+?)__`),
	regexp.MustCompile("`([^`\n]+)`"),
}

// Sanitize strips structural labels and markdown that models sometimes emit.
// Hashtags are kept: a heading marker needs a following space, a hashtag does not.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = headingLine.ReplaceAllString(s, "")
	for _, re := range emphasis {
		s = re.ReplaceAllString(s, "$1")
	}
	s = italic.ReplaceAllString(s, "${1}${2}${3}")
	s = leadingLabel.ReplaceAllString(s, "")
	s = bulletLine.ReplaceAllString(s, "")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
