// Package transcript splits raw conversation text into speaker-attributed
// lines and into extraction-sized segments.
package transcript

import (
	"regexp"
	"strings"
)

// Line is one non-empty transcript line. Speaker is empty when the line
// matched neither attribution pattern; Message then equals Raw.
type Line struct {
	Speaker string `json:"speaker,omitempty"`
	Message string `json:"message"`
	Raw     string `json:"raw"`
}

// Two attribution patterns, tried in order:
//   1. chat-export style: "08/09/17, 9:12 am - Joel: Yes we can"
//   2. generic style:     "Sarah: let's sync tomorrow at 3pm"
// Names are 2-40 characters and may not contain a colon. Everything else is
// kept unattributed; no line is ever dropped.
var (
	chatExportRe = regexp.MustCompile(`(?i)^\d{1,4}[./-]\d{1,2}[./-]\d{2,4},\s+\d{1,2}:\d{2}(?::\d{2})?\s*(?:[ap]\.?m\.?)?\s+-\s+([^:]{2,40}):\s(.+)$`)
	genericRe    = regexp.MustCompile(`^([^:]{2,40}):\s+(.+)$`)
)

// ParseLines parses raw text into ordered Lines, one per non-empty line.
// Deterministic and side-effect free.
func ParseLines(text string) []Line {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var lines []Line
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, parseLine(l))
	}
	return lines
}

func parseLine(l string) Line {
	if m := chatExportRe.FindStringSubmatch(l); m != nil {
		return Line{Speaker: strings.TrimSpace(m[1]), Message: m[2], Raw: l}
	}
	if m := genericRe.FindStringSubmatch(l); m != nil {
		speaker := strings.TrimSpace(m[1])
		if len(speaker) >= 2 {
			return Line{Speaker: speaker, Message: m[2], Raw: l}
		}
	}
	return Line{Message: l, Raw: l}
}

// DefaultSegmentLines is the segment size used at ingestion. It matches the
// extractor's line bound so no ingested line falls outside extraction reach.
const DefaultSegmentLines = 80

// Segment splits text into chunks of at most maxLines non-empty lines each,
// preserving line order and dropping nothing but surrounding blank lines.
// maxLines <= 0 falls back to DefaultSegmentLines.
func Segment(text string, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = DefaultSegmentLines
	}

	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var segments []string
	var current []string
	count := 0

	flush := func() {
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		if joined != "" {
			segments = append(segments, joined)
		}
		current = current[:0]
		count = 0
	}

	for _, l := range raw {
		current = append(current, l)
		if strings.TrimSpace(l) != "" {
			count++
			if count == maxLines {
				flush()
			}
		}
	}
	flush()

	return segments
}
