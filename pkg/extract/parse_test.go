package extract

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanObjects have no brace characters inside string leaves
var cleanObjects = []map[string]any{
	{},
	{"golden": "Write a haiku about autumn."},
	{
		"diagnosis":    []any{"Too vague", "No audience"},
		"missing":      []any{},
		"improvements": []any{"State the format"},
		"golden":       "You are a poet. Write a haiku.",
	},
	{
		"mistakes": []any{"a", "b", "c"},
		"nested":   map[string]any{"deep": map[string]any{"list": []any{"x", map[string]any{"y": "z"}}}},
		"quote":    `she said "hi" and left`,
		"unicode":  "Здравей, свят – ½ “curly”",
		"comma":    "a, b, ]",
	},
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestParse_CleanInputIsIdentity(t *testing.T) {
	for _, x := range cleanObjects {
		got, ok := Parse(mustMarshal(t, x)).Object()
		require.True(t, ok)
		if diff := cmp.Diff(x, got); diff != "" {
			t.Errorf("Parse mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestParse_FenceStripping(t *testing.T) {
	fences := []string{
		"```json\n%s\n```",
		"```JSON\n%s\n```",
		"```\n%s\n```",
		"```json %s```",
		"  ```json\n%s\n```  \n",
	}

	for _, x := range cleanObjects {
		plain, ok := Parse(mustMarshal(t, x)).Object()
		require.True(t, ok)

		for _, f := range fences {
			text := fmt.Sprintf(f, mustMarshal(t, x))
			fenced, ok := Parse(text).Object()
			require.True(t, ok, "fence %q", f)
			if diff := cmp.Diff(plain, fenced); diff != "" {
				t.Errorf("fenced parse mismatch for %q (-want +got):\n%s", f, diff)
			}
		}
	}
}

func TestParse_BalancedScan(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		golden string
	}{
		{
			name:   "braces inside string",
			text:   `{"golden":"use {braces} like this"}`,
			golden: "use {braces} like this",
		},
		{
			name:   "prose around object",
			text:   "Sure! Here it is:\n{\"golden\":\"use {braces} like this\"}\nHope it helps.",
			golden: "use {braces} like this",
		},
		{
			name:   "closing brace inside string",
			text:   `Result: {"golden":"a } b"} trailing }`,
			golden: "a } b",
		},
		{
			name:   "escaped quote before brace",
			text:   `note {"golden":"say \"}\" loudly"} end`,
			golden: `say "}" loudly`,
		},
		{
			name:   "stray quote in leading prose",
			text:   `Here's what I think "honestly: {"golden":"ok"}`,
			golden: "ok",
		},
		{
			name:   "first span is not json",
			text:   `Use {placeholders} then {"golden":"second"}`,
			golden: "second",
		},
		{
			name:   "fence with prose before it",
			text:   "Here you go:\n```json\n{\"golden\":\"fenced\"}\n```",
			golden: "fenced",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := Parse(tt.text).Object()
			require.True(t, ok)
			assert.Equal(t, tt.golden, obj["golden"])
		})
	}
}

func TestParse_Repairs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			name: "trailing commas",
			text: `{"missing": ["a", "b",], "golden": "x",}`,
			want: map[string]any{"missing": []any{"a", "b"}, "golden": "x"},
		},
		{
			name: "trailing comma with whitespace",
			text: "{\"a\": [1, 2 ,\n ]\n,\n}",
			want: map[string]any{"a": []any{float64(1), float64(2)}},
		},
		{
			name: "comma inside string kept",
			text: `{"golden": "a,}", "x": [1,],}`,
			want: map[string]any{"golden": "a,}", "x": []any{float64(1)}},
		},
		{
			name: "curly quotes",
			text: `{“golden”: “Be specific”}`,
			want: map[string]any{"golden": "Be specific"},
		},
		{
			name: "curly quotes inside prose",
			text: `Answer: {“golden”: “use {x}”,}`,
			want: map[string]any{"golden": "use {x}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text).Object()
			require.True(t, ok)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"this is not json at all",
		`{"golden": "truncated because max_tokens ran out`,
		"[1, 2, 3]",
		`"just a string"`,
		"{not: json}",
		"```json\n```",
	}

	for _, in := range inputs {
		r := Parse(in)
		_, ok := r.Object()
		assert.False(t, ok, "input %q", in)
		_, isMalformed := r.(Malformed)
		assert.True(t, isMalformed, "input %q", in)
	}
}

func TestParse_KeepsRawText(t *testing.T) {
	r := Parse("  this is not json at all \n")
	assert.Equal(t, "this is not json at all", r.Text())

	r = Parse("```json\n{\"a\":\"b\"}\n```")
	assert.Equal(t, "```json\n{\"a\":\"b\"}\n```", r.Text())
}

func TestFindObjectCandidates(t *testing.T) {
	got := findObjectCandidates(`a {"x":"{"} b {"y":{"z":1}} c {unclosed`)
	assert.Equal(t, []string{`{"x":"{"}`, `{"y":{"z":1}}`}, got)
}
