// Package vocab holds the forbidden-vocabulary policy: extractor and map
// output must never contain ranking, priority, or urgency language. The term
// list is defined once here and injected into every validator so the policy
// has a single source of truth.
package vocab

import "strings"

// defaultTerms is the forbidden list. Matching is plain substring over the
// lower-cased serialized output, stricter than word-boundary matching, and
// false positives (a term inside a longer harmless word) are accepted: the
// pipeline fails closed. Multi-word entries exist so that an enum value such
// as signal_type "priority" trips the enum check, not this guard.
var defaultTerms = []string{
	"rank",
	"score",
	"urgent",
	"urgency",
	"importance",
	"prioritize",
	"top priority",
	"high priority",
	"priority order",
	"priority list",
	"most important",
	"top insight",
	"top signal",
	"recommended action",
	"must-do",
}

// Guard tests text against an immutable forbidden-term list.
type Guard struct {
	terms []string
}

// Default returns a Guard with the standard forbidden list.
func Default() Guard {
	return New(defaultTerms)
}

// New returns a Guard over the given terms. Terms are lower-cased; empty
// entries are dropped.
func New(terms []string) Guard {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return Guard{terms: cleaned}
}

// Terms returns a copy of the guard's term list.
func (g Guard) Terms() []string {
	out := make([]string, len(g.terms))
	copy(out, g.terms)
	return out
}

// Scan returns every forbidden term found in text, in list order.
// An empty result means the text is clean.
func (g Guard) Scan(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, t := range g.terms {
		if strings.Contains(lower, t) {
			hits = append(hits, t)
		}
	}
	return hits
}
