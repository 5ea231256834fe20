package rewrite

import (
	"regexp"
	"strings"
)

// Normalization strips the privacy annotations and canonicalizes
// spacing so the emitted SQL is stable: applying Normalize to its own
// output returns the input unchanged.

var (
	reBudget     = regexp.MustCompile(`\s*\bOF\s*\[[^\]]*\]`)
	reLabel      = regexp.MustCompile(`\b(?:PRIVATE|PUBLIC)\s+`)
	reSpace      = regexp.MustCompile(`\s+`)
	reComma      = regexp.MustCompile(`\s*,\s*`)
	reParenPlus  = regexp.MustCompile(`\)\s*\+\s*`)
	reOpenParen  = regexp.MustCompile(`\(\s+`)
	reCloseParen = regexp.MustCompile(`\s+\)`)

	reSelect  = regexp.MustCompile(`\s*\bSELECT\b\s*`)
	reFrom    = regexp.MustCompile(`\s*\bFROM\b\s*`)
	reWhere   = regexp.MustCompile(`\s*\bWHERE\b\s*`)
	reGroupBy = regexp.MustCompile(`\s*\bGROUP\s+BY\b\s*`)
	reJoin    = regexp.MustCompile(`\s*\bJOIN\b\s*`)
	reOn      = regexp.MustCompile(`\s*\bON\b\s*`)
)

// Normalize removes OF [...] budget annotations and PRIVATE/PUBLIC
// labels, then canonicalizes whitespace around keywords, commas and
// parentheses. Idempotent.
func Normalize(query string) string {
	s := reBudget.ReplaceAllString(query, "")
	s = reLabel.ReplaceAllString(s, "")
	s = reSpace.ReplaceAllString(s, " ")
	s = reComma.ReplaceAllString(s, ", ")
	s = reParenPlus.ReplaceAllString(s, ") + ")
	s = reSelect.ReplaceAllString(s, " SELECT ")
	s = reFrom.ReplaceAllString(s, " FROM ")
	s = reWhere.ReplaceAllString(s, " WHERE ")
	s = reGroupBy.ReplaceAllString(s, " GROUP BY ")
	s = reJoin.ReplaceAllString(s, " JOIN ")
	s = reOn.ReplaceAllString(s, " ON ")
	s = reOpenParen.ReplaceAllString(s, "(")
	s = reCloseParen.ReplaceAllString(s, ")")
	s = reSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
