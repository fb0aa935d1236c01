// Package taxonomy implements versioned title classification: raw job-title
// strings are matched against an ordered, immutable rule set and mapped to a
// canonical role and seniority with a mapping confidence.
package taxonomy

import (
	"regexp"
	"strings"
)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// punctReplacer maps title punctuation to spaces so "Sr. Engineer/Developer"
// and "Sr Engineer Developer" normalize identically. Ampersand becomes a
// word to keep "R&D" distinguishable from "R D".
var punctReplacer = strings.NewReplacer(
	",", " ",
	".", " ",
	";", " ",
	":", " ",
	"/", " ",
	"\\", " ",
	"|", " ",
	"(", " ",
	")", " ",
	"[", " ",
	"]", " ",
	"-", " ",
	"_", " ",
	"&", " and ",
	"'", "",
	"\"", "",
	"#", " ",
	"*", " ",
)

// NormalizeTitle standardizes a raw title for matching:
//  1. Trim whitespace
//  2. Case-fold to lower
//  3. Replace punctuation with spaces
//  4. Collapse runs of whitespace
//
// Classification is defined over the normalized form, so two spellings of the
// same title always classify identically.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}

	title = strings.ToLower(title)
	title = punctReplacer.Replace(title)
	title = multiSpaceRe.ReplaceAllString(title, " ")
	return strings.TrimSpace(title)
}
