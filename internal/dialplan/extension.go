package dialplan

import (
	"fmt"
	"strings"
)

// Extension maps a digit pattern to a call target.
//
// A pattern starting with '_' is a template matched digit by digit:
// 'X' matches 0-9, 'Z' matches 1-9, 'N' matches 2-9, '.' matches one or
// more remaining digits, '!' matches zero or more. Any other pattern is an
// exact digit string.
type Extension struct {
	Pattern string `json:"pattern"`
	Target  string `json:"target"` // URI template, ${EXTEN} substituted with the dialed digits

	// Compiled pattern info (not exported, built on validation)
	isTemplate bool
	template   string
	exact      string
}

// Validate checks the extension configuration and compiles the pattern.
func (e *Extension) Validate() error {
	if e.Pattern == "" {
		return fmt.Errorf("pattern required")
	}
	if e.Target == "" {
		return fmt.Errorf("target required")
	}

	if strings.HasPrefix(e.Pattern, "_") {
		e.isTemplate = true
		e.template = strings.TrimPrefix(e.Pattern, "_")
		for _, c := range e.template {
			switch {
			case c >= '0' && c <= '9':
			case c == 'X' || c == 'Z' || c == 'N' || c == '.' || c == '!':
			case c == '*' || c == '#':
			default:
				return fmt.Errorf("pattern %q: unsupported character %q", e.Pattern, c)
			}
		}
	} else {
		e.exact = e.Pattern
	}

	return nil
}

// Match checks if dialed digits match this extension's pattern.
func (e *Extension) Match(digits string) bool {
	if digits == "" {
		return false
	}
	if !e.isTemplate {
		return digits == e.exact
	}

	for i, c := range e.template {
		switch c {
		case '.':
			return len(digits) > i
		case '!':
			return len(digits) >= i
		}
		if i >= len(digits) {
			return false
		}
		d := digits[i]
		switch c {
		case 'X':
			if d < '0' || d > '9' {
				return false
			}
		case 'Z':
			if d < '1' || d > '9' {
				return false
			}
		case 'N':
			if d < '2' || d > '9' {
				return false
			}
		default:
			if d != byte(c) {
				return false
			}
		}
	}
	return len(digits) == len(e.template)
}

// Resolve renders the target URI for the dialed digits.
func (e *Extension) Resolve(digits string) string {
	return strings.ReplaceAll(e.Target, "${EXTEN}", digits)
}
