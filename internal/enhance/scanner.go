package enhance

import (
	"strconv"
	"strings"
)

// voiceScanner incrementally extracts the voiceOverText field from a
// streaming JSON decision and surfaces it word by word. A word is complete
// once its trailing boundary (whitespace or sentence-terminal punctuation)
// has been seen, so a consumer can start speaking before the decision
// finishes streaming.
//
// The scanner tracks depth-free minimal state: string-token state while
// seeking the key, value state, and any trailing incomplete escape. Tracking
// string tokens keeps a key name quoted inside another field's value from
// being mistaken for the key itself. It is not a JSON parser.
type voiceScanner struct {
	raw     strings.Builder // accumulated raw stream
	pos     int             // first unconsumed byte of raw
	state   scanState
	pending strings.Builder // decoded value not yet emitted

	inKeyStr bool // inside a string token while seeking the key
	keyEsc   bool // previous byte started an escape inside that token
	keyMatch int  // matched prefix of the key name; -1 once the token cannot match
}

type scanState int

const (
	scanSeekKey scanState = iota
	scanAwaitColon
	scanSeekValue
	scanInValue
	scanDone
)

const voiceKey = "voiceOverText"

// Feed appends chunk to the stream and returns newly completed words,
// boundaries included. The result is empty until at least one full word of
// the voiceOverText value is available.
func (s *voiceScanner) Feed(chunk string) string {
	s.raw.WriteString(chunk)
	raw := s.raw.String()

	for s.pos < len(raw) && s.state != scanDone {
		switch s.state {
		case scanSeekKey:
			c := raw[s.pos]
			s.pos++
			switch {
			case !s.inKeyStr:
				if c == '"' {
					s.inKeyStr = true
					s.keyMatch = 0
				}
			case s.keyEsc:
				s.keyEsc = false
				s.keyMatch = -1
			case c == '\\':
				s.keyEsc = true
				s.keyMatch = -1
			case c == '"':
				s.inKeyStr = false
				if s.keyMatch == len(voiceKey) {
					s.state = scanAwaitColon
				}
			default:
				if s.keyMatch >= 0 && s.keyMatch < len(voiceKey) && c == voiceKey[s.keyMatch] {
					s.keyMatch++
				} else {
					s.keyMatch = -1
				}
			}

		case scanAwaitColon:
			switch raw[s.pos] {
			case ' ', '\t', '\n', '\r':
				s.pos++
			case ':':
				s.pos++
				s.state = scanSeekValue
			default:
				// The matched string was a value, not a key; keep seeking.
				s.state = scanSeekKey
			}

		case scanSeekValue:
			switch raw[s.pos] {
			case ' ', '\t', '\n', '\r', ':':
				s.pos++
			case '"':
				s.pos++
				s.state = scanInValue
			default:
				// null or malformed; nothing to speak.
				s.state = scanDone
			}

		case scanInValue:
			c := raw[s.pos]
			switch c {
			case '"':
				s.pos++
				s.state = scanDone
			case '\\':
				decoded, n := decodeEscape(raw[s.pos:])
				if n == 0 {
					return s.takeWords()
				}
				s.pending.WriteString(decoded)
				s.pos += n
			default:
				s.pending.WriteByte(c)
				s.pos++
			}
		}
	}
	return s.takeWords()
}

// Flush returns any buffered partial word. Call once after the stream ends.
func (s *voiceScanner) Flush() string {
	rest := s.pending.String()
	s.pending.Reset()
	return rest
}

// takeWords drains pending up to the last word boundary.
func (s *voiceScanner) takeWords() string {
	text := s.pending.String()
	cut := -1
	for i := len(text) - 1; i >= 0; i-- {
		if isBoundary(text[i]) {
			cut = i
			break
		}
	}
	if s.state == scanDone {
		// Value ended; everything left is complete.
		cut = len(text) - 1
	}
	if cut < 0 {
		return ""
	}
	out := text[:cut+1]
	s.pending.Reset()
	s.pending.WriteString(text[cut+1:])
	return out
}

// isBoundary reports whether c terminates a word.
func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '.', '!', '?', ';', ':':
		return true
	}
	return false
}

// decodeEscape decodes one JSON string escape at the start of str. n == 0
// means the escape is incomplete and more input is needed.
func decodeEscape(str string) (decoded string, n int) {
	if len(str) < 2 {
		return "", 0
	}
	switch str[1] {
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
		if len(str) < 6 {
			return "", 0
		}
		code, err := strconv.ParseUint(str[2:6], 16, 32)
		if err != nil {
			return str[:6], 6
		}
		return string(rune(code)), 6
	default:
		return str[:2], 2
	}
}
