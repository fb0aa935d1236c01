package taxonomy

import (
	"strings"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// wordModifiers maps seniority keywords found in a normalized title to a
// band. Applied independently of which role rule matched.
var wordModifiers = map[string]model.Seniority{
	"intern":     model.SeniorityIntern,
	"internship": model.SeniorityIntern,
	"co op":      model.SeniorityIntern,

	"junior":    model.SeniorityEntry,
	"jr":        model.SeniorityEntry,
	"entry":     model.SeniorityEntry,
	"graduate":  model.SeniorityEntry,
	"trainee":   model.SeniorityEntry,
	"associate": model.SeniorityEntry,

	"senior": model.SenioritySenior,
	"sr":     model.SenioritySenior,
	"staff":  model.SenioritySenior,

	"lead":      model.SeniorityLead,
	"principal": model.SeniorityLead,

	"manager":    model.SeniorityManager,
	"mgr":        model.SeniorityManager,
	"supervisor": model.SeniorityManager,

	"director": model.SeniorityDirector,

	"vp":             model.SeniorityExec,
	"svp":            model.SeniorityExec,
	"evp":            model.SeniorityExec,
	"president":      model.SeniorityExec,
	"chief":          model.SeniorityExec,
	"vice president": model.SeniorityExec,
	"head of":        model.SeniorityExec,
}

// numeralSuffixes maps roman-numeral level suffixes (I-V) to bands. The
// mapping is monotonic: a higher numeral never maps to a lower band.
//
//	I   -> entry
//	II  -> mid
//	III -> senior
//	IV  -> lead
//	V   -> lead
var numeralSuffixes = map[string]model.Seniority{
	"i":   model.SeniorityEntry,
	"ii":  model.SeniorityMid,
	"iii": model.SenioritySenior,
	"iv":  model.SeniorityLead,
	"v":   model.SeniorityLead,
}

// multiWordModifiers are checked as phrases before single-token lookup.
var multiWordModifiers = []string{"vice president", "head of", "co op"}

// DetectSeniority scans a normalized title for seniority modifiers. When
// several modifiers appear ("senior engineer II"), the highest band wins, so
// word modifiers and numeral suffixes compose predictably. found is false
// when the title carries no modifier at all.
func DetectSeniority(normTitle string) (model.Seniority, bool) {
	best := model.Seniority("")
	found := false

	consider := func(s model.Seniority) {
		if !found || s.Rank() > best.Rank() {
			best = s
		}
		found = true
	}

	for _, phrase := range multiWordModifiers {
		if strings.Contains(normTitle, phrase) {
			consider(wordModifiers[phrase])
		}
	}

	tokens := strings.Fields(normTitle)
	for i, tok := range tokens {
		if s, ok := wordModifiers[tok]; ok {
			consider(s)
			continue
		}
		// Numeral suffixes only count in trailing position ("engineer ii");
		// a numeral mid-title is part of the name, not a level.
		if i == len(tokens)-1 {
			if s, ok := numeralSuffixes[tok]; ok {
				consider(s)
			}
		}
	}

	return best, found
}
