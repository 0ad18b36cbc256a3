package relocate

import (
	"fmt"
	"regexp"
	"strings"
)

// Fallback name components used when extraction produced nothing usable.
const (
	unknownEmployee = "Unknown"
	unknownPeriod   = "NoDate"
)

var (
	reservedChars = regexp.MustCompile(`[/\\<>:"|?*]`)
	runCollapse   = regexp.MustCompile(`[\s_]+`)
)

// Sanitize makes a string safe for use as a filename component: path
// separators and reserved characters are stripped, whitespace and underscore
// runs collapse to a single underscore, and leading/trailing underscores are
// trimmed.
func Sanitize(s string) string {
	s = reservedChars.ReplaceAllString(s, "")
	s = runCollapse.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Filename computes the canonical payslip name
// PS_<employee>_<period>[_<sequence>].pdf. A sequence of 0 means the group
// has a single member and gets no suffix.
func Filename(employee, period string, sequence int) string {
	who := Sanitize(employee)
	if who == "" {
		who = unknownEmployee
	}
	when := Sanitize(period)
	if when == "" {
		when = unknownPeriod
	}
	if sequence > 0 {
		return fmt.Sprintf("PS_%s_%s_%d.pdf", who, when, sequence)
	}
	return fmt.Sprintf("PS_%s_%s.pdf", who, when)
}
