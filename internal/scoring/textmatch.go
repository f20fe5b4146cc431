package scoring

import (
	"regexp"
	"strings"
	"sync"
)

// patternCache maps a term to its compiled case-insensitive regexp, or nil
// when the term is not a valid expression and is matched literally.
var patternCache sync.Map

// MatchValidation reports whether answer satisfies a match expression.
//
// The expression is a list of groups separated by "|"; a group matches when
// every "+"-separated term in it is found in the answer. Terms are
// case-insensitive regular expressions, falling back to a literal substring
// when a term does not compile. A blank expression accepts everything and a
// blank answer matches nothing else.
func MatchValidation(answer, expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}

	for _, group := range strings.Split(expr, "|") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		if matchGroup(answer, group) {
			return true
		}
	}
	return false
}

func matchGroup(answer, group string) bool {
	for _, term := range strings.Split(group, "+") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if !matchTerm(answer, term) {
			return false
		}
	}
	return true
}

func matchTerm(text, term string) bool {
	re := compileTerm(term)
	if re == nil {
		return strings.Contains(strings.ToLower(text), strings.ToLower(term))
	}
	return re.MatchString(text)
}

func compileTerm(term string) *regexp.Regexp {
	if cached, ok := patternCache.Load(term); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + term)
	if err != nil {
		re = nil
	}
	patternCache.Store(term, re)
	return re
}
