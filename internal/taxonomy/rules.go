package taxonomy

import (
	"math"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// Classification is the output of classifying one raw title.
type Classification struct {
	Role           string          `json:"role,omitempty"`
	Seniority      model.Seniority `json:"seniority,omitempty"`
	Confidence     float64         `json:"confidence"`
	Matched        bool            `json:"matched"`
	Ambiguous      bool            `json:"ambiguous"`
	RuleSetVersion string          `json:"rule_set_version"`
}

// compiledRule pairs a rule with its matcher and registration order.
type compiledRule struct {
	model.TitleMappingRule
	matcher Matcher
	order   int
}

// RuleSet is a versioned, immutable, ordered set of title mapping rules plus
// the seniority modifier tables. Taxonomy growth creates a new version; a
// rule set is never mutated mid-run. Classification is deterministic: the
// same (version, title) pair always yields the same output.
type RuleSet struct {
	version          string
	roles            map[string]model.CanonicalRole
	rules            []compiledRule // sorted: priority desc, specificity desc, registration order
	ambiguityEpsilon float64
}

// ruleSetFile is the on-disk YAML layout of a rule set.
type ruleSetFile struct {
	Version string                   `yaml:"version"`
	Roles   []model.CanonicalRole    `yaml:"roles"`
	Rules   []model.TitleMappingRule `yaml:"rules"`
}

// Option tweaks rule-set compilation.
type Option func(*RuleSet)

// WithAmbiguityEpsilon sets how close two competing rules' confidences must
// be for a match to count as ambiguous. Default 0.05.
func WithAmbiguityEpsilon(eps float64) Option {
	return func(rs *RuleSet) { rs.ambiguityEpsilon = eps }
}

// Compile builds a RuleSet from rule data. Rules are validated, matchers
// built, and the evaluation order fixed: priority descending, then pattern
// specificity descending, then registration order. The fixed order is the
// deterministic tie-break required for reproducible re-runs.
func Compile(version string, roles []model.CanonicalRole, rules []model.TitleMappingRule, opts ...Option) (*RuleSet, error) {
	if version == "" {
		return nil, eris.New("taxonomy: rule set version is required")
	}

	rs := &RuleSet{
		version:          version,
		roles:            make(map[string]model.CanonicalRole, len(roles)),
		ambiguityEpsilon: 0.05,
	}
	for _, o := range opts {
		o(rs)
	}

	for _, r := range roles {
		if r.ID == "" {
			return nil, eris.New("taxonomy: role with empty id")
		}
		rs.roles[r.ID] = r
	}

	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, eris.Errorf("taxonomy: rule %d has empty pattern", i)
		}
		if _, ok := rs.roles[rule.Role]; !ok {
			return nil, eris.Errorf("taxonomy: rule %q targets unknown role %q", rule.Pattern, rule.Role)
		}
		if rule.BaseConfidence < 0 || rule.BaseConfidence > 1 {
			return nil, eris.Errorf("taxonomy: rule %q confidence %.2f outside [0,1]", rule.Pattern, rule.BaseConfidence)
		}
		if rule.Seniority != "" && !rule.Seniority.Valid() {
			return nil, eris.Errorf("taxonomy: rule %q has unknown seniority %q", rule.Pattern, rule.Seniority)
		}

		m, err := newMatcher(rule)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, compiledRule{TitleMappingRule: rule, matcher: m, order: i})
	}

	sort.SliceStable(rs.rules, func(a, b int) bool {
		ra, rb := rs.rules[a], rs.rules[b]
		if ra.Priority != rb.Priority {
			return ra.Priority > rb.Priority
		}
		if sa, sb := ra.matcher.Specificity(), rb.matcher.Specificity(); sa != sb {
			return sa > sb
		}
		return ra.order < rb.order
	})

	return rs, nil
}

// LoadRuleSet reads a versioned rule-set YAML file.
func LoadRuleSet(path string, opts ...Option) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read rule set %s", path)
	}

	var f ruleSetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "taxonomy: parse rule set %s", path)
	}

	rs, err := Compile(f.Version, f.Roles, f.Rules, opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: compile rule set %s", path)
	}
	return rs, nil
}

// Version returns the rule-set version string.
func (rs *RuleSet) Version() string { return rs.version }

// Role looks up a canonical role by id.
func (rs *RuleSet) Role(id string) (model.CanonicalRole, bool) {
	r, ok := rs.roles[id]
	return r, ok
}

// RuleCount returns the number of compiled rules.
func (rs *RuleSet) RuleCount() int { return len(rs.rules) }

// Classify maps a raw title to (role, seniority, confidence).
//
// The first matching rule in the compiled order wins. A best-effort pick is
// still made when competing rules for different roles match with comparable
// confidence, but the result is flagged Ambiguous so the synthesizer can
// route it to review. An unmatched title is not an error: Matched is false
// and the caller records the title in the unmatched ledger.
func (rs *RuleSet) Classify(rawTitle string) Classification {
	out := Classification{RuleSetVersion: rs.version}

	norm := NormalizeTitle(rawTitle)
	if norm == "" {
		return out
	}

	var winner *compiledRule
	for i := range rs.rules {
		rule := &rs.rules[i]
		if !rule.matcher.Matches(norm) {
			continue
		}
		if winner == nil {
			winner = rule
			continue
		}
		// A later match for a different role with comparable confidence
		// makes the pick ambiguous. Same-role matches merely corroborate.
		if rule.Role != winner.Role &&
			math.Abs(rule.BaseConfidence-winner.BaseConfidence) <= rs.ambiguityEpsilon {
			out.Ambiguous = true
		}
	}

	if winner == nil {
		return out
	}

	out.Matched = true
	out.Role = winner.Role
	out.Confidence = winner.BaseConfidence

	if s, found := DetectSeniority(norm); found {
		out.Seniority = s
	} else if winner.Seniority != "" {
		out.Seniority = winner.Seniority
	} else {
		out.Seniority = model.SeniorityMid
	}

	return out
}
