// Package compliance implements the pre-parse policy gate. It runs on
// raw query text, before the parser, as defense in depth against input
// crafted to confuse later stages. Rules are evaluated in order and
// the first failure wins.
package compliance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"veilql/config"
	"veilql/qerror"
)

var (
	stringLitRe    = regexp.MustCompile(`'[^']*'`)
	identRe        = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
	selectClauseRe = regexp.MustCompile(`(?is)\bSELECT\b(.*?)\bFROM\b`)
	orderByRe      = regexp.MustCompile(`(?is)\bORDER\s+BY\b(.*?)(?:\bLIMIT\b|$)`)
	limitRe        = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	aggCallRe      = regexp.MustCompile(`(?i)\b(AVG|SUM|COUNT|MIN|MAX)\s*\(`)
)

// textKeywords are words that identifier extraction must ignore.
var textKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"JOIN": true, "ON": true, "AND": true, "OR": true, "AS": true, "OF": true,
	"PUBLIC": true, "PRIVATE": true, "ORDER": true, "LIMIT": true,
	"ASC": true, "DESC": true, "NOT": true, "NULL": true,
	"AVG": true, "SUM": true, "COUNT": true, "MIN": true, "MAX": true,
}

// Checker validates query text against the privacy policy before
// parsing.
type Checker struct {
	policy *config.Policy
}

// NewChecker creates a checker bound to the given policy.
func NewChecker(policy *config.Policy) *Checker {
	return &Checker{policy: policy}
}

// Check returns nil when the text passes the gate, or a compliance
// error naming the first violated rule.
func (c *Checker) Check(query string) error {
	text := stringLitRe.ReplaceAllString(query, "''")

	// Rule 1: prohibited PII selected outside an aggregation call.
	if m := selectClauseRe.FindStringSubmatch(text); m != nil {
		bare := removeAggregationCalls(m[1])
		for _, col := range identifiers(bare) {
			if c.policy.IsProhibited(col) {
				return qerror.Compliance(fmt.Sprintf("direct PII access: column '%s'", col))
			}
		}
	}

	// Rule 2: a sensitive column must be labeled PRIVATE or sit inside
	// an aggregation call wherever it appears.
	bare := removeAggregationCalls(text)
	for _, ref := range identifierRefs(bare) {
		if !c.policy.IsSensitive(ref.name) {
			continue
		}
		if !ref.labeledPrivate {
			return qerror.Compliance(fmt.Sprintf("sensitive column requires aggregation: '%s'", ref.name))
		}
	}

	// Rule 3: ordering by a sensitive or prohibited column leaks
	// information regardless of aggregation.
	if m := orderByRe.FindStringSubmatch(text); m != nil {
		for _, col := range identifiers(m[1]) {
			if c.policy.IsSensitive(col) || c.policy.IsProhibited(col) {
				return qerror.Compliance(fmt.Sprintf("ordering leaks information: ORDER BY on '%s'", col))
			}
		}
	}

	// Rule 4: small limits can isolate individuals.
	hasOrderBy := orderByRe.MatchString(text)
	if m := limitRe.FindStringSubmatch(text); m != nil {
		limit, err := strconv.Atoi(m[1])
		if err == nil {
			if hasOrderBy && limit <= 10 {
				return qerror.Compliance(fmt.Sprintf("singleton result risks re-identification: ORDER BY with LIMIT %d", limit))
			}
			if limit == 1 && !aggCallRe.MatchString(text) {
				return qerror.Compliance("singleton result risks re-identification: LIMIT 1 without aggregation")
			}
		}
	}

	return nil
}

// removeAggregationCalls strips AVG(...), SUM(...), COUNT(...),
// MIN(...) and MAX(...) including their arguments, balancing nested
// parentheses. Matching is case-insensitive.
func removeAggregationCalls(s string) string {
	var b strings.Builder
	upper := strings.ToUpper(s)
	i := 0
outer:
	for i < len(s) {
		for _, fn := range [...]string{"COUNT", "AVG", "SUM", "MIN", "MAX"} {
			if !strings.HasPrefix(upper[i:], fn) {
				continue
			}
			if i > 0 && isIdentByte(s[i-1]) {
				continue
			}
			if i+len(fn) < len(s) && isIdentByte(s[i+len(fn)]) {
				// Longer identifier like COUNTY, not a call.
				continue
			}
			j := i + len(fn)
			for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
				j++
			}
			if j >= len(s) || s[j] != '(' {
				continue
			}
			depth := 1
			j++
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '(':
					depth++
				case ')':
					depth--
				}
				j++
			}
			b.WriteByte(' ')
			i = j
			continue outer
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// identifiers returns all identifier-shaped words in s minus keywords.
func identifiers(s string) []string {
	var out []string
	for _, w := range identRe.FindAllString(s, -1) {
		if !textKeywords[strings.ToUpper(w)] {
			out = append(out, w)
		}
	}
	return out
}

type identRef struct {
	name           string
	labeledPrivate bool
}

// identifierRefs returns identifier occurrences with whether each is
// prefixed by a PRIVATE label, looking through an optional table
// qualifier.
func identifierRefs(s string) []identRef {
	locs := identRe.FindAllStringIndex(s, -1)
	words := make([]string, len(locs))
	for i, loc := range locs {
		words[i] = s[loc[0]:loc[1]]
	}

	var out []identRef
	for i, w := range words {
		if textKeywords[strings.ToUpper(w)] {
			continue
		}
		labeled := false
		if i > 0 && strings.EqualFold(words[i-1], "PRIVATE") {
			labeled = true
		}
		// table.column: the qualifier sits between the label and the
		// column word, joined by a dot.
		if i > 1 && joinedByDot(s, locs[i-1], locs[i]) && strings.EqualFold(words[i-2], "PRIVATE") {
			labeled = true
		}
		out = append(out, identRef{name: w, labeledPrivate: labeled})
	}
	return out
}

// joinedByDot reports whether the gap between two identifier spans is
// exactly a dot (ignoring spaces).
func joinedByDot(s string, left, right []int) bool {
	gap := s[left[1]:right[0]]
	return strings.TrimSpace(gap) == "."
}

func isIdentByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
