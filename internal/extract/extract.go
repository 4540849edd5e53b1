// Package extract implements the deterministic heuristic signal extractor.
// It scans conversation lines (or calendar event notes) for linguistic cues
// and emits candidate drafts. Rule-based on purpose: every candidate can be
// traced to the cue that produced it, and the same input always yields the
// same output.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/calmweave/keepsake/internal/transcript"
)

// Candidate is one proposed observation, not yet reviewed or stored.
// Field names match the serialized response contract checked by the
// validator.
type Candidate struct {
	SignalType              string `json:"signal_type"`
	Label                   string `json:"label"`
	Description             string `json:"description"`
	ConfidenceLevel         string `json:"confidence_level"`
	Excerpt                 string `json:"excerpt"`
	ExcerptLocation         string `json:"excerpt_location,omitempty"`
	RiskOfMisinterpretation string `json:"risk_of_misinterpretation"`
	WhySurfaced             string `json:"why_surfaced"`
	AmbiguityNote           string `json:"ambiguity_note"`
}

// Response is the full extraction output handed to the validator.
type Response struct {
	Status     string      `json:"status"`
	Candidates []Candidate `json:"candidates"`
	Errors     []string    `json:"errors"`
}

const (
	maxTranscriptLines = 80 // only the first lines of a segment are scanned
	maxCandidates      = 15 // transcript output cap, earliest matched first
	anchorTarget       = 8  // fallback fills the queue up to this many
	anchorMinLen       = 25 // message length floor for fallback anchors
	questionMinLen     = 10 // transcript question cue ignores shorter lines
	excerptMaxLen      = 240
	quoteMaxLen        = 180
)

// lineFacts holds the per-line cue matches. Computed once per line so the
// commitment cue can see its co-occurring cues.
type lineFacts struct {
	scheduling  bool
	followUp    bool
	question    bool
	affirmation bool
	decision    bool
	friction    bool
}

var (
	schedulingRe  = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|today|tomorrow|tonight|next week)\b|\b\d{1,2}:\d{2}\b|\b\d{1,2}\s?(am|pm)\b`)
	followUpRe    = regexp.MustCompile(`\b(follow up|follow-up|connect|call|meet|sync|catch up|touch base|circle back|check in)\b`)
	modalRe       = regexp.MustCompile(`\b(can|could|would|should)\b`)
	affirmationRe = regexp.MustCompile(`\b(yes|yeah|yep|sure|sounds good|will do|i will|i'll|definitely|deal|okay|ok|confirmed|count me in)\b`)
	decisionRe    = regexp.MustCompile(`\b(decide|decided|let's do|we will|going to|plan is|next step|agreed|settle on|settled on)\b`)
	frictionRe    = regexp.MustCompile(`\b(blocked|blocker|stuck|worried|worry|worries|concern|concerned|problem|issue|risk|risky|can't|cannot|delay|delayed|broken|waiting on)\b`)
)

// cue is one row of the detection table. The table order is the precedence
// order: a borderline line takes the label of the earliest matching cue, and
// the transcript cap cuts off later cues first.
type cue struct {
	name       string
	signalType string
	confidence string
	risk       string
	match      func(lineFacts) bool
	labelStem  string
	sentence   string
	rationale  string
	ambiguity  string
}

var cues = []cue{
	{
		name: "scheduling", signalType: "opportunity", confidence: "explicit", risk: "low",
		match:     func(f lineFacts) bool { return f.scheduling },
		labelStem: "Time or date mention",
		sentence:  "A day or clock time comes up in this line.",
		rationale: "This line mentions a day or a clock time, which often accompanies making plans.",
		ambiguity: "The time mentioned could refer to the past or to something hypothetical.",
	},
	{
		name: "follow-up", signalType: "pattern", confidence: "explicit", risk: "low",
		match:     func(f lineFacts) bool { return f.followUp },
		labelStem: "Follow-up intent",
		sentence:  "This line talks about connecting or meeting again.",
		rationale: "This line uses follow-up wording such as connect, call, meet, or sync.",
		ambiguity: "Talk of connecting can be casual rather than an actual intention.",
	},
	{
		name: "question", signalType: "insight", confidence: "explicit", risk: "medium",
		match:     func(f lineFacts) bool { return f.question },
		labelStem: "Open question",
		sentence:  "A question is raised here that may still be open.",
		rationale: "This line asks something that may not have been answered in the conversation.",
		ambiguity: "The question may be rhetorical or already resolved elsewhere.",
	},
	{
		name: "commitment", signalType: "promise", confidence: "explicit", risk: "medium",
		match:     func(f lineFacts) bool { return f.affirmation && (f.scheduling || f.followUp || f.decision) },
		labelStem: "Spoken commitment",
		sentence:  "An agreement is voiced together with plan wording.",
		rationale: "Affirming words appear in the same line as scheduling, follow-up, or next-step wording.",
		ambiguity: "An affirmation in passing does not always mean a firm commitment.",
	},
	{
		name: "decision", signalType: "opportunity", confidence: "explicit", risk: "medium",
		match:     func(f lineFacts) bool { return f.decision },
		labelStem: "Next step language",
		sentence:  "This line reads like a next step being chosen.",
		rationale: "This line uses planning or next-step wording.",
		ambiguity: "Wording that sounds like a decision may only be thinking out loud.",
	},
	{
		name: "friction", signalType: "warning", confidence: "explicit", risk: "medium",
		match:     func(f lineFacts) bool { return f.friction },
		labelStem: "Friction mention",
		sentence:  "Something in the way is mentioned here.",
		rationale: "This line mentions friction, a blocker, or something not working.",
		ambiguity: "Friction words sometimes describe someone else's situation, not this one.",
	},
}

// Extractor scans text for cue patterns. It is stateless and safe for
// concurrent use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Transcript runs the transcript variant over raw conversation text: parse
// lines, scan the first maxTranscriptLines against the cue table, fill the
// queue with fallback anchors if rules produced fewer than anchorTarget
// candidates, and cap the output at maxCandidates. Pure function of its
// input.
func (x *Extractor) Transcript(text string) Response {
	lines := transcript.ParseLines(text)
	if len(lines) > maxTranscriptLines {
		lines = lines[:maxTranscriptLines]
	}

	seen := make(map[string]struct{})
	out := []Candidate{}
	contributed := make([]bool, len(lines))

	for i, ln := range lines {
		if len(out) >= maxCandidates {
			break
		}
		f := factsFor(ln.Message, questionMinLen)
		for _, c := range cues {
			if len(out) >= maxCandidates {
				break
			}
			if !c.match(f) {
				continue
			}
			if add(&out, seen, c.build(ln, i)) {
				contributed[i] = true
			}
		}
	}

	// Fallback: a review queue with almost nothing in it reads as "nothing
	// happened", so long lines that matched no rule are kept as low-confidence
	// context anchors until the queue holds anchorTarget candidates.
	if len(out) < anchorTarget {
		for i, ln := range lines {
			if len(out) >= anchorTarget {
				break
			}
			if contributed[i] || utf8.RuneCountInString(ln.Message) <= anchorMinLen {
				continue
			}
			add(&out, seen, anchorCandidate(ln, i))
		}
	}

	return Response{Status: "success", Candidates: out, Errors: []string{}}
}

// EventNotes runs the event variant over concatenated note text for one
// calendar event. Same cue table, but observation-only: no line bound, no
// output cap, no fallback anchors, and the question cue drops its length
// floor. One extra candidate is emitted per attendee literally named in the
// notes.
func (x *Extractor) EventNotes(notes string, attendees []string) Response {
	lines := transcript.ParseLines(notes)

	seen := make(map[string]struct{})
	out := []Candidate{}

	for i, ln := range lines {
		f := factsFor(ln.Message, 0)
		for _, c := range cues {
			if !c.match(f) {
				continue
			}
			add(&out, seen, c.build(ln, i))
		}
	}

	lowerNotes := strings.ToLower(notes)
	for _, name := range attendees {
		name = strings.TrimSpace(name)
		// 2-80 runes; anything longer would push the label past its bound.
		if n := utf8.RuneCountInString(name); n < 2 || n > 80 {
			continue
		}
		if !strings.Contains(lowerNotes, strings.ToLower(name)) {
			continue
		}
		add(&out, seen, attendeeCandidate(name, lines))
	}

	return Response{Status: "success", Candidates: out, Errors: []string{}}
}

func factsFor(msg string, questionFloor int) lineFacts {
	lower := strings.ToLower(msg)
	f := lineFacts{
		scheduling:  schedulingRe.MatchString(lower),
		followUp:    followUpRe.MatchString(lower),
		affirmation: affirmationRe.MatchString(lower),
		decision:    decisionRe.MatchString(lower),
		friction:    frictionRe.MatchString(lower),
	}
	if utf8.RuneCountInString(msg) >= questionFloor {
		trimmed := strings.TrimSpace(msg)
		f.question = strings.HasSuffix(trimmed, "?") || modalRe.MatchString(lower)
	}
	return f
}

func (c cue) build(ln transcript.Line, idx int) Candidate {
	label := c.labelStem
	if ln.Speaker != "" {
		label += " from " + ln.Speaker
	}
	excerpt := truncate(ln.Message, excerptMaxLen)
	return Candidate{
		SignalType:              c.signalType,
		Label:                   label,
		Description:             fmt.Sprintf("%s The line reads: %q.", c.sentence, truncate(ln.Message, quoteMaxLen)),
		ConfidenceLevel:         c.confidence,
		Excerpt:                 excerpt,
		ExcerptLocation:         fmt.Sprintf("line %d", idx+1),
		RiskOfMisinterpretation: c.risk,
		WhySurfaced:             c.rationale,
		AmbiguityNote:           c.ambiguity,
	}
}

func anchorCandidate(ln transcript.Line, idx int) Candidate {
	label := "Context anchor"
	if ln.Speaker != "" {
		label += " from " + ln.Speaker
	}
	return Candidate{
		SignalType:              "insight",
		Label:                   label,
		Description:             fmt.Sprintf("No cue fired on this line, but it is substantial enough to hold useful context. The line reads: %q.", truncate(ln.Message, quoteMaxLen)),
		ConfidenceLevel:         "inferred",
		Excerpt:                 truncate(ln.Message, excerptMaxLen),
		ExcerptLocation:         fmt.Sprintf("line %d", idx+1),
		RiskOfMisinterpretation: "high",
		WhySurfaced:             "No rule matched this line; it is long enough that it may hold context worth keeping.",
		AmbiguityNote:           "Nothing specific was detected here; this may be ordinary chatter.",
	}
}

func attendeeCandidate(name string, lines []transcript.Line) Candidate {
	excerpt := name
	location := ""
	lowerName := strings.ToLower(name)
	for i, ln := range lines {
		if strings.Contains(strings.ToLower(ln.Message), lowerName) {
			excerpt = truncate(ln.Message, excerptMaxLen)
			location = fmt.Sprintf("line %d", i+1)
			break
		}
	}
	return Candidate{
		SignalType:              "pattern",
		Label:                   "Mention of " + name,
		Description:             fmt.Sprintf("The notes for this event name %s directly, which may tie the event to them.", name),
		ConfidenceLevel:         "explicit",
		Excerpt:                 excerpt,
		ExcerptLocation:         location,
		RiskOfMisinterpretation: "medium",
		WhySurfaced:             "This attendee's name appears in the notes for this event.",
		AmbiguityNote:           "The name could refer to a different person who happens to share it.",
	}
}

// add appends cand unless its lower-cased label|excerpt pair was already
// emitted in this run.
func add(out *[]Candidate, seen map[string]struct{}, cand Candidate) bool {
	key := strings.ToLower(cand.Label + "|" + cand.Excerpt)
	if _, ok := seen[key]; ok {
		return false
	}
	seen[key] = struct{}{}
	*out = append(*out, cand)
	return true
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
