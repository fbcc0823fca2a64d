// Package extract recovers structured replies from model output that is supposed
// to be JSON but often is not quite: fenced, decorated with prose, curly-quoted,
// carrying trailing commas, or JSON encoded twice.
//
// Everything here is a pure function. Nothing returns an error or panics; the
// worst case is a Malformed result that normalizes to a fallback record.
package extract

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of Parse: either Parsed or Malformed
type Result interface {
	// Object returns the decoded object, or false when the text was not recoverable
	Object() (map[string]any, bool)
	// Text returns the text Parse was given
	Text() string

	isResult()
}

// Parsed holds an object recovered from model output
type Parsed struct {
	Value map[string]any
	Raw   string
}

// Malformed holds model output that no recovery step could decode
type Malformed struct {
	Raw string
}

func (p Parsed) Object() (map[string]any, bool) { return p.Value, true }
func (p Parsed) Text() string                   { return p.Raw }
func (Parsed) isResult()                        {}

func (Malformed) Object() (map[string]any, bool) { return nil, false }
func (m Malformed) Text() string                 { return m.Raw }
func (Malformed) isResult()                      {}

// Parse recovers a JSON object from text. In order it tries the whole text,
// the text with cosmetic repairs, then each balanced {...} span found by a
// quote-aware scan, again with and without repairs.
func Parse(text string) Result {
	raw := strings.TrimSpace(text)
	body := stripFence(raw)

	if obj, ok := decodeLenient(body); ok {
		return Parsed{Value: obj, Raw: raw}
	}

	for _, candidate := range findObjectCandidates(body) {
		if obj, ok := decodeLenient(candidate); ok {
			return Parsed{Value: obj, Raw: raw}
		}
	}

	// Curly quotes hide string boundaries from the scanner
	repaired := normalizeQuotes(body)
	if repaired != body {
		for _, candidate := range findObjectCandidates(repaired) {
			if obj, ok := decodeLenient(candidate); ok {
				return Parsed{Value: obj, Raw: raw}
			}
		}
	}

	return Malformed{Raw: raw}
}

// decodeLenient decodes s as an object, retrying once with cosmetic repairs
func decodeLenient(s string) (map[string]any, bool) {
	if obj, ok := decodeObject(s); ok {
		return obj, true
	}
	return decodeObject(repair(s))
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripFence removes one ``` fence, with an optional json tag, around the text
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"„", `"`,
	"‘", "'",
	"’", "'",
)

func normalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

// repair straightens curly quotes and drops trailing commas before } or ]
func repair(s string) string {
	return removeTrailingCommas(normalizeQuotes(s))
}

// removeTrailingCommas drops commas followed only by whitespace and a closing
// brace or bracket. Commas inside string literals are left alone.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var inString, escape bool
	for i := 0; i < len(s); i++ {
		c := s[i]

		if escape {
			escape = false
			b.WriteByte(c)
			continue
		}
		if inString {
			if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			b.WriteByte(c)
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

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// findObjectCandidates returns every top-level balanced {...} span in s.
// Braces inside string literals, including escaped quotes, do not count.
//
// Iterating bytes is safe: UTF-8 never uses ASCII bytes inside multi-byte sequences.
func findObjectCandidates(s string) []string {
	var candidates []string
	var depth int
	start := -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		// Quotes only delimit strings once an object has started
		if b == '"' && depth > 0 {
			inString = true
			continue
		}

		switch b {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}
