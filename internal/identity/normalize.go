// Package identity resolves raw company and location strings to the stable
// identifiers used in archetype keys. Resolution is thin and deterministic:
// name normalization plus an alias table, no network lookups.
package identity

import (
	"regexp"
	"strings"
)

// legalSuffixes lists common legal entity suffixes to strip during company
// name normalization.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" PC", " P.C.", " P.C",
	" PA", " P.A.", " P.A",
	" CO", " CO.",
	" PLC", " P.L.C.",
	" NA", " N.A.", " N.A",
	" DBA", " D/B/A",
	" PLLC",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// NormalizeCompany standardizes a raw employer name for matching by:
//  1. Trimming whitespace
//  2. Converting to uppercase
//  3. Removing common legal suffixes (LLC, Inc, Corp, etc.)
//  4. Stripping punctuation (commas, periods, dashes, ampersands)
//  5. Collapsing multiple spaces into single spaces
func NormalizeCompany(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)

	// Strip legal suffixes (check longest first is fine since they're all distinct).
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	return name
}

// CompanyID converts a raw employer name into the stable company identifier
// used in archetype keys: the normalized name lowercased with spaces as
// underscores. Two filings for "Acme Widgets, Inc." and "ACME WIDGETS LLC"
// resolve to the same id.
func CompanyID(name string) string {
	norm := NormalizeCompany(name)
	if norm == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(norm), " ", "_")
}
