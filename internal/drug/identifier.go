// Package drug provides drug identification and rule matching. A drug is
// identified by an exact NDC-equivalent product code and a hierarchical
// GPI-equivalent class code whose successive prefixes denote increasingly
// broad drug classes.
package drug

import "strings"

// Identifier identifies the drug(s) a rule applies to. Exactly one of
// DrugCode (exact product match) or ClassCode (class-prefix match) should be
// set; an identifier with both set matches on the exact code only.
type Identifier struct {
	DrugCode  string `json:"drug_code,omitempty"`
	ClassCode string `json:"class_code,omitempty"`
}

// IsZero reports whether the identifier identifies nothing.
func (id Identifier) IsZero() bool {
	return id.DrugCode == "" && id.ClassCode == ""
}

// Matches reports whether a claim drug, given by its exact code and full
// class code, falls under this identifier. Exact identifiers require an
// exact code match; class identifiers match when the identifier's class
// code is a prefix of the claim's class code.
func (id Identifier) Matches(drugCode, classCode string) bool {
	if id.DrugCode != "" {
		return id.DrugCode == drugCode
	}
	if id.ClassCode != "" {
		return classCode != "" && strings.HasPrefix(classCode, id.ClassCode)
	}
	return false
}

// Rule is anything keyed by a drug identifier.
type Rule interface {
	DrugIdentifier() Identifier
}

// Match returns every rule whose identifier matches the claim drug, in the
// configured order. All matches are returned, not just the longest class
// prefix: independent rules may legitimately apply at different class
// granularities. An empty result is not an error; it means no rule applies.
func Match[R Rule](rules []R, drugCode, classCode string) []R {
	var matched []R
	for _, r := range rules {
		if r.DrugIdentifier().Matches(drugCode, classCode) {
			matched = append(matched, r)
		}
	}
	return matched
}

// SharesClassPrefix reports whether two class codes agree on their first
// n characters. Codes shorter than n never share a prefix at that
// granularity.
func SharesClassPrefix(a, b string, n int) bool {
	if n <= 0 || len(a) < n || len(b) < n {
		return false
	}
	return a[:n] == b[:n]
}
