// Package intake normalizes free-text intake answers into the typed values
// the state machine consumes. All pattern matching lives here so the state
// machine only ever sees validated input.
package intake

import (
	"regexp"
	"strings"
)

var (
	classPattern = regexp.MustCompile(`(CMPSC|CS)\s*\d{1,3}[A-Za-z]{0,2}`)
	letterDigit  = regexp.MustCompile(`([A-Za-z])(\d)`)
	spaceRun     = regexp.MustCompile(`\s+`)
	yesNoPattern = regexp.MustCompile(`yes|no`)
)

// ParseClassName extracts and normalizes a class name like "CMPSC XXX".
// "CS" is expanded to "CMPSC", a missing space between subject and number is
// inserted, and whitespace runs collapse, so "cs16" becomes "CMPSC 16".
func ParseClassName(raw string) (string, bool) {
	match := classPattern.FindString(strings.ToUpper(raw))
	if match == "" {
		return "", false
	}

	match = strings.ReplaceAll(match, "CS", "CMPSC")
	match = letterDigit.ReplaceAllString(match, "$1 $2")
	match = spaceRun.ReplaceAllString(match, " ")
	return strings.TrimSpace(match), true
}

// ParseYesNo finds the first yes/no in the answer, case-insensitively.
// The second return is false when the answer contains neither.
func ParseYesNo(raw string) (yes bool, ok bool) {
	match := yesNoPattern.FindString(strings.ToLower(raw))
	if match == "" {
		return false, false
	}
	return match == "yes", true
}

// CollapseWhitespace flattens tabs, newlines and whitespace runs into single
// spaces and trims the result; titles and descriptions render on one line.
func CollapseWhitespace(raw string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(raw, " "))
}
