package review

import (
	"fmt"
	"strings"
)

// MaxCoachItems is how many history items a coach review looks at
const MaxCoachItems = 5

// Item is one prompt from the client's history, optionally with the AI's reply
type Item struct {
	Prompt  string `json:"prompt"`
	AIReply string `json:"aiReply"`
}

// BuildCoachText combines the first MaxCoachItems items into the coach input.
// Items without a prompt are skipped but keep their position in the numbering.
// When no item contributes, fallback (client pre-combined text) is used instead.
// The result is clipped to maxChars runes; an empty result means nothing usable.
func BuildCoachText(items []Item, fallback string, maxChars int) string {
	if len(items) > MaxCoachItems {
		items = items[:MaxCoachItems]
	}

	var chunks []string
	for i, item := range items {
		p := strings.TrimSpace(item.Prompt)
		if p == "" {
			continue
		}
		chunks = append(chunks, fmt.Sprintf("PROMPT %d:\n%s", i+1, p))
		if r := strings.TrimSpace(item.AIReply); r != "" {
			chunks = append(chunks, fmt.Sprintf("AI REPLY %d:\n%s", i+1, r))
		}
	}

	combined := strings.Join(chunks, "\n\n---\n\n")
	if combined == "" {
		combined = strings.TrimSpace(fallback)
	}
	return Clip(combined, maxChars)
}

// Clip shortens s to at most n runes. n <= 0 disables clipping.
func Clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
