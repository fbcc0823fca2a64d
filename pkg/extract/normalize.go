package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NotValidJSON is the message a fallback record carries when nothing could be parsed
const NotValidJSON = "Model output was not valid JSON."

// CoachWidth is the fixed length of the coach mistakes and fixes arrays
const CoachWidth = 3

// maxNestedDepth bounds how many layers of double encoding are unwrapped
const maxNestedDepth = 3

// Outcome describes how a record was recovered
type Outcome string

const (
	OutcomeParsed   Outcome = "parsed"
	OutcomeNested   Outcome = "nested"
	OutcomeFallback Outcome = "fallback"
)

// PromptCheck is the canonical prompt-check reply. All four fields are always present.
type PromptCheck struct {
	Diagnosis    []string `json:"diagnosis"`
	Missing      []string `json:"missing"`
	Improvements []string `json:"improvements"`
	Golden       string   `json:"golden"`
}

// Coach is the canonical coach reply. Mistakes and Fixes always hold CoachWidth entries.
type Coach struct {
	Mistakes   []string `json:"mistakes"`
	Fixes      []string `json:"fixes"`
	MetaPrompt string   `json:"metaPrompt"`
}

var (
	diagnosisKeys    = []string{"diagnosis", "mistakes", "notes"}
	improvementKeys  = []string{"improvements", "fixes", "suggestions"}
	goldenKeys       = []string{"golden", "goldenPrompt", "prompt"}
	promptNestedKeys = []string{"golden", "goldenPrompt", "text", "raw", "prompt"}

	mistakeKeys     = []string{"mistakes", "errors", "notes"}
	fixKeys         = []string{"fixes", "improvements", "suggestions"}
	metaKeys        = []string{"metaPrompt", "meta", "meta_prompt", "raw"}
	coachNestedKeys = []string{"metaPrompt", "meta", "text", "raw", "mistakes"}

	// promptSignalKeys are the key names that identify a nested prompt-check payload
	promptSignalKeys = []string{"diagnosis", "missing", "improvements", "golden", "goldenPrompt"}
	coachSignalKeys  = []string{"mistakes", "fixes", "metaPrompt"}
)

// NormalizePromptCheck maps any Parse result onto the prompt-check record
func NormalizePromptCheck(r Result) (PromptCheck, Outcome) {
	obj, ok := r.Object()
	if !ok {
		return PromptCheck{
			Diagnosis:    []string{NotValidJSON},
			Missing:      []string{},
			Improvements: []string{},
			Golden:       r.Text(),
		}, OutcomeFallback
	}
	return promptCheckFrom(obj, 0)
}

func promptCheckFrom(obj map[string]any, depth int) (PromptCheck, Outcome) {
	obj = unwrapResult(obj)

	pc := PromptCheck{
		Diagnosis:    listFrom(obj, diagnosisKeys),
		Missing:      listFrom(obj, []string{"missing"}),
		Improvements: listFrom(obj, improvementKeys),
		Golden:       stringFrom(obj, goldenKeys),
	}

	empty := len(pc.Diagnosis) == 0 && len(pc.Missing) == 0 && len(pc.Improvements) == 0
	if empty && depth < maxNestedDepth {
		for _, key := range promptNestedKeys {
			s, ok := obj[key].(string)
			if !ok || !looksNested(s, promptSignalKeys) {
				continue
			}
			inner, ok := Parse(s).Object()
			if !ok {
				continue
			}
			nested, _ := promptCheckFrom(inner, depth+1)
			if nested.plausible() {
				return nested, OutcomeNested
			}
		}
	}

	return pc, OutcomeParsed
}

func (pc PromptCheck) plausible() bool {
	return len(pc.Diagnosis) > 0 || len(pc.Missing) > 0 || len(pc.Improvements) > 0 ||
		(pc.Golden != "" && !looksNested(pc.Golden, promptSignalKeys))
}

// NormalizeCoach maps any Parse result onto the fixed-width coach record
func NormalizeCoach(r Result) (Coach, Outcome) {
	obj, ok := r.Object()
	if !ok {
		return Coach{
			Mistakes:   padTo([]string{NotValidJSON}, CoachWidth),
			Fixes:      padTo(nil, CoachWidth),
			MetaPrompt: r.Text(),
		}, OutcomeFallback
	}
	c, outcome := coachFrom(obj, 0)
	c.Mistakes = padTo(c.Mistakes, CoachWidth)
	c.Fixes = padTo(c.Fixes, CoachWidth)
	return c, outcome
}

func coachFrom(obj map[string]any, depth int) (Coach, Outcome) {
	obj = unwrapResult(obj)

	c := Coach{
		Mistakes:   listFrom(obj, mistakeKeys),
		Fixes:      listFrom(obj, fixKeys),
		MetaPrompt: stringFrom(obj, metaKeys),
	}

	// A mistakes entry that is itself a JSON blob counts as empty
	mistakesNested := len(c.Mistakes) == 1 && looksNested(c.Mistakes[0], coachSignalKeys)
	empty := (len(c.Mistakes) == 0 || mistakesNested) && len(c.Fixes) == 0
	if empty && depth < maxNestedDepth {
		for _, key := range coachNestedKeys {
			s := nestedCandidate(obj[key])
			if s == "" || !looksNested(s, coachSignalKeys) {
				continue
			}
			inner, ok := Parse(s).Object()
			if !ok {
				continue
			}
			nested, _ := coachFrom(inner, depth+1)
			if len(nested.Mistakes) > 0 || len(nested.Fixes) > 0 {
				if nested.MetaPrompt == "" && !looksNested(c.MetaPrompt, coachSignalKeys) {
					nested.MetaPrompt = c.MetaPrompt
				}
				return nested, OutcomeNested
			}
		}
	}

	return c, OutcomeParsed
}

// nestedCandidate returns the string form of a field that may hold encoded JSON
func nestedCandidate(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) == 1 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// unwrapResult descends into a "result" object when the model wrapped its reply
func unwrapResult(obj map[string]any) map[string]any {
	if inner, ok := obj["result"].(map[string]any); ok {
		return inner
	}
	return obj
}

// looksNested reports whether s plausibly contains an encoded object with one of keys
func looksNested(s string, keys []string) bool {
	if !strings.Contains(s, "{") || !strings.Contains(s, "}") {
		return false
	}
	for _, key := range keys {
		if strings.Contains(s, `"`+key+`"`) || strings.Contains(s, "“"+key+"”") {
			return true
		}
	}
	return false
}

// listFrom returns the first non-empty list among keys. A bare string becomes a
// one-element list. The result is never nil.
func listFrom(obj map[string]any, keys []string) []string {
	for _, key := range keys {
		if list := toList(obj[key]); len(list) > 0 {
			return list
		}
	}
	return []string{}
}

func toList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

// stringFrom returns the first non-empty string among keys, trimmed
func stringFrom(obj map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// padTo truncates or right-pads list with empty strings to exactly n entries
func padTo(list []string, n int) []string {
	out := make([]string, n)
	copy(out, list)
	return out
}
