package taxonomy

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// Matcher decides whether a normalized title satisfies one rule's pattern.
// Keeping this behind an interface keeps matching logic testable independent
// of the rule data.
type Matcher interface {
	// Matches evaluates the normalized title.
	Matches(normTitle string) bool

	// Specificity orders rules of equal priority: a more specific pattern
	// beats a less specific one. Higher wins.
	Specificity() int
}

type exactMatcher struct{ phrase string }

func (m exactMatcher) Matches(normTitle string) bool { return normTitle == m.phrase }
func (m exactMatcher) Specificity() int              { return len(m.phrase) }

type substringMatcher struct{ phrase string }

func (m substringMatcher) Matches(normTitle string) bool {
	return strings.Contains(normTitle, m.phrase)
}
func (m substringMatcher) Specificity() int { return len(m.phrase) }

type patternMatcher struct {
	re  *regexp.Regexp
	src string
}

func (m patternMatcher) Matches(normTitle string) bool { return m.re.MatchString(normTitle) }
func (m patternMatcher) Specificity() int              { return len(m.src) }

// newMatcher builds the Matcher for a rule. The kind is explicit per rule,
// never inferred from the pattern text. Exact and substring patterns are
// normalized with the same function applied to titles.
func newMatcher(rule model.TitleMappingRule) (Matcher, error) {
	switch rule.Kind {
	case model.RuleExact:
		return exactMatcher{phrase: NormalizeTitle(rule.Pattern)}, nil
	case model.RuleSubstring:
		return substringMatcher{phrase: NormalizeTitle(rule.Pattern)}, nil
	case model.RulePattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "taxonomy: compile pattern %q", rule.Pattern)
		}
		return patternMatcher{re: re, src: rule.Pattern}, nil
	default:
		return nil, eris.Errorf("taxonomy: unknown rule kind %q", rule.Kind)
	}
}
