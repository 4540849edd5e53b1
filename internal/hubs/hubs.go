// Package hubs builds the conversation map: deterministic bucketing of
// parsed lines into person hubs (who spoke) and theme hubs (recurring
// terms). Hubs are listed alphabetically and carry plain occurrence counts;
// nothing here orders by weight or frequency.
package hubs

import (
	"sort"
	"strings"
	"unicode"

	"github.com/calmweave/keepsake/internal/transcript"
)

// Hub is one bucket of the conversation map.
type Hub struct {
	Kind     string   `json:"kind"` // "person" or "theme"
	Name     string   `json:"name"`
	Mentions int      `json:"mentions"`
	Excerpts []string `json:"excerpts,omitempty"`
}

// Map is the full conversation map for one conversation.
type Map struct {
	ConversationID string `json:"conversation_id"`
	Hubs           []Hub  `json:"hubs"`
}

const (
	themeMinLines = 2 // a term becomes a theme once it appears on this many lines
	themeMinRunes = 4
	excerptsPer   = 2
)

// Chat filler that should never become a theme hub.
var stopwords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "have": {}, "will": {}, "your": {},
	"from": {}, "they": {}, "them": {}, "then": {}, "than": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "would": {}, "could": {},
	"should": {}, "about": {}, "there": {}, "their": {}, "these": {}, "those": {},
	"been": {}, "being": {}, "were": {}, "some": {}, "such": {}, "into": {},
	"over": {}, "only": {}, "also": {}, "very": {}, "just": {}, "like": {},
	"want": {}, "need": {}, "know": {}, "think": {}, "going": {}, "really": {},
	"because": {}, "maybe": {}, "okay": {}, "yeah": {}, "sure": {}, "well": {},
	"good": {}, "nice": {}, "here": {}, "dont": {}, "cant": {}, "wont": {},
	"lets": {}, "right": {}, "still": {}, "even": {}, "much": {}, "more": {},
	"most": {}, "many": {}, "back": {}, "gonna": {}, "thing": {}, "things": {},
}

// Build assembles the map for one conversation's parsed lines. Lines without
// a speaker contribute to theme hubs only; no person hub is ever created for
// an empty speaker. Output order is fixed: person hubs first, then theme
// hubs, each alphabetical.
func Build(conversationID string, lines []transcript.Line) Map {
	type person struct {
		count    int
		excerpts []string
	}
	people := make(map[string]*person)
	themes := make(map[string]int)

	// Speaker names already have a person hub; keep them out of the themes.
	speakers := make(map[string]struct{})
	for _, ln := range lines {
		if ln.Speaker != "" {
			speakers[strings.ToLower(ln.Speaker)] = struct{}{}
		}
	}

	for _, ln := range lines {
		if ln.Speaker != "" {
			p := people[ln.Speaker]
			if p == nil {
				p = &person{}
				people[ln.Speaker] = p
			}
			p.count++
			if len(p.excerpts) < excerptsPer {
				p.excerpts = append(p.excerpts, ln.Message)
			}
		}

		seen := make(map[string]struct{})
		for _, w := range terms(ln.Message) {
			if _, dup := seen[w]; dup {
				continue
			}
			if _, isSpeaker := speakers[w]; isSpeaker {
				continue
			}
			seen[w] = struct{}{}
			themes[w]++
		}
	}

	hubs := []Hub{}
	for name, p := range people {
		hubs = append(hubs, Hub{Kind: "person", Name: name, Mentions: p.count, Excerpts: p.excerpts})
	}
	for term, n := range themes {
		if n < themeMinLines {
			continue
		}
		hubs = append(hubs, Hub{Kind: "theme", Name: term, Mentions: n})
	}

	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Kind != hubs[j].Kind {
			return hubs[i].Kind < hubs[j].Kind
		}
		li, lj := strings.ToLower(hubs[i].Name), strings.ToLower(hubs[j].Name)
		if li != lj {
			return li < lj
		}
		return hubs[i].Name < hubs[j].Name
	})

	return Map{ConversationID: conversationID, Hubs: hubs}
}

// terms lower-cases a message and keeps the alphabetic words long enough to
// carry meaning.
func terms(msg string) []string {
	fields := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := fields[:0]
	for _, w := range fields {
		if len([]rune(w)) < themeMinRunes {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}
