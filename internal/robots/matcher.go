package robots

import (
	"regexp"
	"strings"
)

// compiledPattern is an allow/disallow pattern turned into a regex, plus
// its specificity (the length of the original pattern) used to break
// ties between competing rules the way Google's robots.txt parser does:
// the longest matching pattern wins, and an allow wins a tie over a
// disallow of equal length.
type compiledPattern struct {
	re          *regexp.Regexp
	specificity int
}

// compilePattern turns a robots.txt path pattern into an anchored
// prefix-matching regex. "*" matches any run of characters; a trailing
// "$" anchors the match to the end of the path instead of allowing a
// longer path to still match as a prefix.
func compilePattern(pattern string) compiledPattern {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '$':
			if i == len(pattern)-1 {
				b.WriteByte('$')
			} else {
				b.WriteString(regexp.QuoteMeta("$"))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return compiledPattern{re: regexp.MustCompile(b.String()), specificity: len(pattern)}
}

// matchRules finds the most specific rule among allows and disallows
// that matches path. matched is false if no rule applies at all.
func matchRules(allows, disallows []pathRule, path string) (allowed bool, matched bool) {
	bestSpecificity := -1
	bestAllowed := true

	consider := func(rules []pathRule, isAllow bool) {
		for _, rule := range rules {
			if rule.prefix == "" {
				continue
			}
			cp := compilePattern(rule.prefix)
			if !cp.re.MatchString(path) {
				continue
			}
			if cp.specificity > bestSpecificity || (cp.specificity == bestSpecificity && isAllow) {
				bestSpecificity = cp.specificity
				bestAllowed = isAllow
				matched = true
			}
		}
	}

	consider(disallows, false)
	consider(allows, true)

	return bestAllowed, matched
}
