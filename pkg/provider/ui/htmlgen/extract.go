package htmlgen

import (
	"strconv"
	"strings"
)

// extractor incrementally pulls the value of the "htmlContent" field out of a
// streaming JSON response. Feed returns the newly decoded suffix of the value
// on each call, so the caller can forward markup as soon as it exists instead
// of waiting for the full JSON document.
//
// The scanner tracks only what it needs: string-token state while seeking the
// key, whether it is inside the value string, and any trailing incomplete
// escape sequence. Tracking string tokens keeps the key name quoted inside
// another field's value from starting extraction there. It is not a JSON
// parser and deliberately ignores the rest of the document.
type extractor struct {
	raw   strings.Builder // accumulated raw stream
	pos   int             // first unconsumed byte of raw
	state extractState

	inKeyStr bool // inside a string token while seeking the key
	keyEsc   bool // previous byte started an escape inside that token
	keyMatch int  // matched prefix of the key name; -1 once the token cannot match
}

type extractState int

const (
	stateSeekKey extractState = iota
	stateAwaitColon
	stateSeekValue
	stateInValue
	stateDone
)

const key = "htmlContent"

// Feed appends chunk to the raw stream and returns any newly decoded portion
// of the htmlContent value. The returned string is empty until the key and
// the opening quote of its value have been seen.
func (e *extractor) Feed(chunk string) string {
	e.raw.WriteString(chunk)
	raw := e.raw.String()
	var out strings.Builder

	for e.pos < len(raw) && e.state != stateDone {
		switch e.state {
		case stateSeekKey:
			c := raw[e.pos]
			e.pos++
			switch {
			case !e.inKeyStr:
				if c == '"' {
					e.inKeyStr = true
					e.keyMatch = 0
				}
			case e.keyEsc:
				e.keyEsc = false
				e.keyMatch = -1
			case c == '\\':
				e.keyEsc = true
				e.keyMatch = -1
			case c == '"':
				e.inKeyStr = false
				if e.keyMatch == len(key) {
					e.state = stateAwaitColon
				}
			default:
				if e.keyMatch >= 0 && e.keyMatch < len(key) && c == key[e.keyMatch] {
					e.keyMatch++
				} else {
					e.keyMatch = -1
				}
			}

		case stateAwaitColon:
			switch raw[e.pos] {
			case ' ', '\t', '\n', '\r':
				e.pos++
			case ':':
				e.pos++
				e.state = stateSeekValue
			default:
				// The matched string was a value, not a key; keep seeking.
				e.state = stateSeekKey
			}

		case stateSeekValue:
			c := raw[e.pos]
			switch c {
			case ' ', '\t', '\n', '\r', ':':
				e.pos++
			case '"':
				e.pos++
				e.state = stateInValue
			default:
				// Malformed; give up extraction.
				e.state = stateDone
			}

		case stateInValue:
			c := raw[e.pos]
			switch c {
			case '"':
				e.pos++
				e.state = stateDone
			case '\\':
				decoded, n := decodeEscape(raw[e.pos:])
				if n == 0 {
					// Incomplete escape at the buffer end; wait for more input.
					return out.String()
				}
				out.WriteString(decoded)
				e.pos += n
			default:
				out.WriteByte(c)
				e.pos++
			}
		}
	}
	return out.String()
}

// Started reports whether the value string has been entered, i.e. whether any
// output has been or will be produced.
func (e *extractor) Started() bool {
	return e.state == stateInValue || e.state == stateDone
}

// Raw returns the full accumulated stream, for fallback when no htmlContent
// field was present.
func (e *extractor) Raw() string {
	return e.raw.String()
}

// decodeEscape decodes one JSON string escape at the start of s. It returns
// the decoded text and the number of raw bytes consumed; n == 0 means the
// escape is incomplete and more input is needed.
func decodeEscape(s string) (decoded string, n int) {
	if len(s) < 2 {
		return "", 0
	}
	switch s[1] {
	case '"':
		return `"`, 2
	case '\\':
		return `\`, 2
	case '/':
		return `/`, 2
	case 'n':
		return "\n", 2
	case 't':
		return "\t", 2
	case 'r':
		return "\r", 2
	case 'b':
		return "\b", 2
	case 'f':
		return "\f", 2
	case 'u':
		if len(s) < 6 {
			return "", 0
		}
		code, err := strconv.ParseUint(s[2:6], 16, 32)
		if err != nil {
			// Invalid unicode escape; pass it through verbatim.
			return s[:6], 6
		}
		return string(rune(code)), 6
	default:
		// Unknown escape; pass both bytes through.
		return s[:2], 2
	}
}
