// Package strescape removes control and non-printable chars from strings
// reported by external sources (such as audio drivers) before they are
// printed to a terminal.
package strescape

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Name returns s without the chars that don't belong in a single line name
// (device names, host names).
func Name(s string) string {
	return strings.Map(func(r rune) rune {
		if !strconv.IsPrint(r) {
			return -1
		}
		if r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

// Quoted returns the escaped name as a quoted string, using "(unnamed)" for
// names that are empty after escaping.
func Quoted(s string) string {
	s = Name(s)
	if s == "" {
		return "(unnamed)"
	}
	return strconv.Quote(s)
}
