// Package redact strips contact details from transcript text before it is
// stored. Dates, times, and ordinary short numbers pass through untouched.
package redact

import "regexp"

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b|\+\d{7,15}\b`)
	longRe  = regexp.MustCompile(`\d{9,}`)
)

// Scrub replaces email addresses, phone numbers, and long digit runs with
// fixed placeholders. The placeholders contain no digits or @, so applying
// Scrub to its own output changes nothing.
func Scrub(text string) string {
	text = emailRe.ReplaceAllString(text, "[redacted-email]")
	text = phoneRe.ReplaceAllString(text, "[redacted-phone]")
	text = longRe.ReplaceAllString(text, "[redacted-number]")
	return text
}
