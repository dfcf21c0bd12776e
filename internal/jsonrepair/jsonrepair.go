// Package jsonrepair recovers truncated JSON emitted by a language model that ran
// out of output budget.
//
// Repair is an ordered list of independent passes. Each pass takes text and
// returns text and can be tested on its own against hand-crafted inputs.
package jsonrepair

import (
	"regexp"
	"strings"
	"unicode"
)

// Pass is a single text transform.
type Pass struct {
	Name string
	Fn   func(string) string
}

// DefaultPasses is the order Repair applies. Trimming must happen before
// balancing so closers are never appended after half a key.
var DefaultPasses = []Pass{
	{Name: "trim-preamble", Fn: TrimPreamble},
	{Name: "trim-dangling", Fn: TrimDangling},
	{Name: "trim-incomplete-element", Fn: TrimIncompleteElement},
	{Name: "balance", Fn: Balance},
	{Name: "strip-trailing-commas", Fn: StripTrailingCommas},
}

// Repair applies DefaultPasses in order.
func Repair(s string) string {
	return Apply(s, DefaultPasses...)
}

// Apply runs the given passes left to right.
func Apply(s string, passes ...Pass) string {
	for _, p := range passes {
		s = p.Fn(s)
	}
	return s
}

// TrimPreamble drops prose before the first '{' and surrounding whitespace.
func TrimPreamble(s string) string {
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	return strings.TrimSpace(s)
}

// TrimDangling removes a trailing key/value pair that was cut off before its
// value was complete: a half-written key, a key without a colon or value, or a
// partial true/false/null/number literal. An unterminated string value is kept;
// Balance closes it.
func TrimDangling(s string) string {
	s = trimRightSpace(s)
	st := scan(s)

	if st.inString {
		if st.strIsKey {
			return trimTrailingComma(s[:st.strStart])
		}
		return s
	}
	if len(st.stack) == 0 {
		return s
	}

	top := st.stack[len(st.stack)-1]
	if top.open == '{' && (top.state == wantColon || top.state == wantValue) {
		return trimTrailingComma(s[:top.keyStart])
	}
	if st.litStart >= 0 && !completeLiteral(s[st.litStart:]) {
		if top.open == '{' {
			return trimTrailingComma(s[:top.keyStart])
		}
		return trimTrailingComma(s[:st.litStart])
	}
	return s
}

// TrimIncompleteElement drops the final array element when truncation happened
// inside it. The element is located by the innermost unmatched '{' whose parent
// is an array, or by an unterminated string directly inside an array.
func TrimIncompleteElement(s string) string {
	st := scan(s)

	if st.inString && len(st.stack) > 0 && st.stack[len(st.stack)-1].open == '[' {
		return trimTrailingComma(s[:st.strStart])
	}

	for i := len(st.stack) - 1; i > 0; i-- {
		f := st.stack[i]
		if f.open == '{' && st.stack[i-1].open == '[' {
			return trimTrailingComma(s[:f.pos])
		}
	}
	return s
}

// Balance closes an open string and appends the closers for every unmatched
// '{' and '['.
func Balance(s string) string {
	st := scan(s)
	if st.inString {
		if st.escape {
			s = s[:len(s)-1]
		}
		s = partialUnicodeEscape.ReplaceAllString(s, "")
		s += `"`
		st = scan(s)
	}
	if len(st.stack) == 0 {
		return s
	}

	s = trimTrailingComma(s)
	if strings.HasSuffix(s, ":") {
		s += "null"
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i].open == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// StripTrailingCommas removes commas directly followed by '}' or ']', outside
// string literals.
func StripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// --- scanner ---

const (
	wantKey = iota
	wantColon
	wantValue
	haveValue
)

type frame struct {
	open     byte
	pos      int
	state    int
	keyStart int
}

type scanState struct {
	stack    []frame
	inString bool
	strStart int
	strIsKey bool
	litStart int
	escape   bool
}

// scan walks s and reports the unclosed containers and whether s ends inside a
// string or a bare literal.
func scan(s string) scanState {
	st := scanState{litStart: -1}
	escaped := false

	top := func() *frame {
		if len(st.stack) == 0 {
			return nil
		}
		return &st.stack[len(st.stack)-1]
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				st.inString = false
				if f := top(); f != nil && f.open == '{' {
					if st.strIsKey {
						f.state = wantColon
					} else {
						f.state = haveValue
					}
				}
			}
			continue
		}

		switch c {
		case '"':
			st.inString = true
			st.strStart = i
			st.litStart = -1
			f := top()
			st.strIsKey = f != nil && f.open == '{' && f.state == wantKey
			if st.strIsKey {
				f.keyStart = i
			}
		case '{', '[':
			if f := top(); f != nil && f.open == '{' {
				f.state = haveValue
			}
			st.stack = append(st.stack, frame{open: c, pos: i, state: wantKey})
			st.litStart = -1
		case '}', ']':
			if f := top(); f != nil && closes(f.open, c) {
				st.stack = st.stack[:len(st.stack)-1]
			}
			st.litStart = -1
		case ':':
			if f := top(); f != nil && f.open == '{' {
				f.state = wantValue
			}
			st.litStart = -1
		case ',':
			if f := top(); f != nil && f.open == '{' {
				f.state = wantKey
			}
			st.litStart = -1
		default:
			if isSpace(c) {
				st.litStart = -1
				continue
			}
			if st.litStart < 0 {
				st.litStart = i
			}
			if f := top(); f != nil && f.open == '{' {
				f.state = haveValue
			}
		}
	}
	st.escape = st.inString && escaped
	return st
}

func closes(open, c byte) bool {
	return (open == '{' && c == '}') || (open == '[' && c == ']')
}

var partialUnicodeEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{0,3}$`)

var numberPattern = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)

func completeLiteral(lit string) bool {
	switch lit {
	case "true", "false", "null":
		return true
	}
	return numberPattern.MatchString(lit)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func trimRightSpace(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func trimTrailingComma(s string) string {
	s = trimRightSpace(s)
	for strings.HasSuffix(s, ",") {
		s = trimRightSpace(strings.TrimSuffix(s, ","))
	}
	return s
}
